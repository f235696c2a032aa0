// Package docs registers the OpenAPI description served under /swagger.
// Regenerate with: swag init -g cmd/server/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/chat/history": {
            "get": {
                "description": "Returns the caller's full chat log in chronological order, plus the configured greeting.",
                "produces": ["application/json"],
                "tags": ["Chat"],
                "summary": "Load the chat log",
                "operationId": "chatHistory",
                "parameters": [
                    {"type": "string", "example": "aluno-42", "description": "User ID (demo header)", "name": "X-User-ID", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.HistoryResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chat/messages": {
            "get": {
                "description": "Returns a page of the caller's chat log. Supports weak ETag via If-None-Match and may return 304.",
                "produces": ["application/json"],
                "tags": ["Chat"],
                "summary": "List chat messages (paginated)",
                "operationId": "listMessages",
                "parameters": [
                    {"type": "string", "description": "User ID (demo header)", "name": "X-User-ID", "in": "header"},
                    {"type": "string", "description": "Return 304 if ETag matches", "name": "If-None-Match", "in": "header"},
                    {"minimum": 1, "type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"maximum": 100, "minimum": 1, "type": "integer", "default": 20, "description": "Items per page", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListMessagesResponse"}, "headers": {"ETag": {"type": "string", "description": "Weak ETag for the current log"}}},
                    "304": {"description": "Not Modified", "schema": {"type": "string"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "description": "Stores the user's message, asks the AI mentor for a reply and stores the reply.\nWhen the provider fails the turn still succeeds with fallback=true and an unsaved apology.\nSupports idempotency via the Idempotency-Key header (same key, same reply).",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Chat"],
                "summary": "Send a chat message",
                "operationId": "postMessage",
                "parameters": [
                    {"type": "string", "description": "User ID (demo header)", "name": "X-User-ID", "in": "header"},
                    {"type": "string", "description": "Idempotency key for safe retries (UUID recommended)", "name": "Idempotency-Key", "in": "header"},
                    {"description": "User message payload", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.PostMessageRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.PostMessageResponse"}, "headers": {"Idempotency-Replayed": {"type": "string", "description": "true when the response is a replay"}}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Another turn is in progress", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "413": {"description": "Body too large", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/streak": {
            "get": {
                "description": "Returns the stored streak. A user who never visited has 0 days.",
                "produces": ["application/json"],
                "tags": ["Streak"],
                "summary": "Current streak",
                "operationId": "getStreak",
                "parameters": [
                    {"type": "string", "description": "User ID (demo header)", "name": "X-User-ID", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.StreakResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/streak/visit": {
            "post": {
                "description": "Applies today's (UTC) visit to the caller's streak. Repeat visits on the same day are not written.",
                "produces": ["application/json"],
                "tags": ["Streak"],
                "summary": "Record a visit",
                "operationId": "visitStreak",
                "parameters": [
                    {"type": "string", "description": "User ID (demo header)", "name": "X-User-ID", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.StreakResponse"}},
                    "409": {"description": "Concurrent update (compare-and-swap mode)", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "turn_in_flight"},
                "message": {"type": "string", "example": "a chat turn is already in progress"},
                "request_id": {"type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"}
            }
        },
        "handlers.HistoryResponse": {
            "type": "object",
            "properties": {
                "greeting": {"type": "string"},
                "messages": {"type": "array", "items": {"$ref": "#/definitions/handlers.MessageDTO"}}
            }
        },
        "handlers.ListMessagesResponse": {
            "type": "object",
            "properties": {
                "messages": {"type": "array", "items": {"$ref": "#/definitions/handlers.MessageDTO"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        },
        "handlers.MessageDTO": {
            "type": "object",
            "properties": {
                "content": {"type": "string"},
                "created_at": {"type": "string"},
                "id": {"type": "string"},
                "role": {"type": "string", "enum": ["user", "assistant"]}
            }
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "has_next": {"type": "boolean"},
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"}
            }
        },
        "handlers.PostMessageRequest": {
            "type": "object",
            "required": ["content"],
            "properties": {
                "content": {"type": "string", "example": "Como organizo meus estudos para o ENEM?"}
            }
        },
        "handlers.PostMessageResponse": {
            "type": "object",
            "properties": {
                "fallback": {"type": "boolean"},
                "reply": {"type": "string"},
                "reply_message_id": {"type": "string"},
                "reply_persisted": {"type": "boolean"},
                "user_message_id": {"type": "string"}
            }
        },
        "handlers.StreakResponse": {
            "type": "object",
            "properties": {
                "kind": {"type": "string", "example": "consecutive"},
                "last_active_date": {"type": "string", "example": "2024-01-11"},
                "persisted": {"type": "boolean"},
                "streak_days": {"type": "integer", "example": 3}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Study Mentor API",
	Description:      "Engagement streaks and the AI study-mentor chat.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
