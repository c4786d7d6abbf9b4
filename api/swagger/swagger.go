package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Library Duty API",
        "description": "Library committee duty scheduling for student rosters",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Auth", "description": "Authentication"},
        {"name": "Students", "description": "Student roster management"},
        {"name": "Rooms", "description": "Library room management"},
        {"name": "Duty Schedules", "description": "Duty schedule generation and review"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Authenticate and receive an access token",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Auth"],
                "summary": "Current user profile",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students": {
            "get": {
                "tags": ["Students"],
                "summary": "List students",
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "classId", "in": "query", "type": "string"},
                    {"name": "grade", "in": "query", "type": "integer"},
                    {"name": "active", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Students"],
                "summary": "Create student",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateStudentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}": {
            "get": {
                "tags": ["Students"],
                "summary": "Get student",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Students"],
                "summary": "Update student",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateStudentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Students"],
                "summary": "Deactivate student",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/rooms": {
            "get": {
                "tags": ["Rooms"],
                "summary": "List rooms",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Rooms"],
                "summary": "Create room",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateRoomRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/rooms/{id}": {
            "get": {
                "tags": ["Rooms"],
                "summary": "Get room",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Rooms"],
                "summary": "Update room",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateRoomRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Rooms"],
                "summary": "Delete room",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/duty-schedules/generate": {
            "post": {
                "tags": ["Duty Schedules"],
                "summary": "Generate a duty schedule for a term",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GenerateScheduleRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Schedule already exists", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Roster precondition failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Insufficient capacity", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/duty-schedules/reset": {
            "post": {
                "tags": ["Duty Schedules"],
                "summary": "Delete duty assignments for a term scope",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ResetScheduleRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Confirmation required", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No schedule to delete", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/duty-schedules": {
            "get": {
                "tags": ["Duty Schedules"],
                "summary": "List duty assignments",
                "parameters": [
                    {"name": "term", "in": "query", "type": "string"},
                    {"name": "dayOfWeek", "in": "query", "type": "integer"},
                    {"name": "roomId", "in": "query", "type": "string"},
                    {"name": "grade", "in": "query", "type": "integer"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/duty-schedules/summary": {
            "get": {
                "tags": ["Duty Schedules"],
                "summary": "Summarize duty assignments",
                "parameters": [
                    {"name": "term", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/duty-schedules/export": {
            "get": {
                "tags": ["Duty Schedules"],
                "summary": "Export a term schedule as CSV or PDF",
                "parameters": [
                    {"name": "term", "in": "query", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "File"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "Student": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "full_name": {"type": "string"},
                "class_id": {"type": "string"},
                "grade": {"type": "integer"},
                "active": {"type": "boolean"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "Room": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "capacity": {"type": "integer"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "DutyAssignment": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "student_id": {"type": "string"},
                "room_id": {"type": "string"},
                "day_of_week": {"type": "integer"},
                "term": {"type": "string"},
                "created_at": {"type": "string"}
            }
        },
        "CreateStudentRequest": {
            "type": "object",
            "properties": {
                "full_name": {"type": "string"},
                "class_id": {"type": "string"},
                "grade": {"type": "integer"}
            },
            "required": ["full_name", "class_id", "grade"]
        },
        "UpdateStudentRequest": {
            "type": "object",
            "properties": {
                "full_name": {"type": "string"},
                "class_id": {"type": "string"},
                "grade": {"type": "integer"},
                "active": {"type": "boolean"}
            },
            "required": ["full_name", "class_id", "grade"]
        },
        "CreateRoomRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "capacity": {"type": "integer"}
            },
            "required": ["name", "capacity"]
        },
        "UpdateRoomRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "capacity": {"type": "integer"}
            },
            "required": ["name", "capacity"]
        },
        "GenerateScheduleRequest": {
            "type": "object",
            "properties": {
                "term": {"type": "string", "enum": ["FIRST_TERM", "SECOND_TERM"]},
                "force_regenerate": {"type": "boolean"}
            },
            "required": ["term"]
        },
        "ResetScheduleRequest": {
            "type": "object",
            "properties": {
                "scope": {"type": "string", "enum": ["FIRST_TERM", "SECOND_TERM", "ALL"]},
                "confirm_delete": {"type": "boolean"}
            },
            "required": ["scope", "confirm_delete"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
