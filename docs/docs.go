// Package docs holds the Swagger 2.0 document for the simbiot HTTP API and
// registers it with swag so gin-swagger can serve it at /api-docs.
//
// It follows the layout `swag init -g cmd/simbiot/main.go` produces from the
// handler annotations in internal/api.
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
        "/api/v1/deployments": {
            "get": {
                "produces": ["application/json"],
                "tags": ["deployments"],
                "summary": "List deployments",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/api.DeploymentList"}
                    },
                    "500": {
                        "description": "Internal Server Error",
                        "schema": {"$ref": "#/definitions/api.ErrorResponse"}
                    }
                }
            },
            "post": {
                "description": "Validates the request, starts the deployment in the background and returns at once. Source directory, entry point and container image come from server configuration. A name that is being deployed or already has an endpoint is rejected with 409.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["deployments"],
                "summary": "Deploy a model to a serverless endpoint",
                "parameters": [
                    {
                        "description": "Overrides for the configured model and deployment defaults",
                        "name": "request",
                        "in": "body",
                        "schema": {"$ref": "#/definitions/api.DeployRequest"}
                    }
                ],
                "responses": {
                    "202": {
                        "description": "Accepted",
                        "schema": {"$ref": "#/definitions/api.StatusResponse"}
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {"$ref": "#/definitions/api.ErrorResponse"}
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {"$ref": "#/definitions/api.StatusResponse"}
                    }
                }
            }
        },
        "/api/v1/deployments/{name}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["deployments"],
                "summary": "Get a deployment",
                "parameters": [
                    {"type": "string", "description": "Deployment name", "name": "name", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/hosting.Deployment"}
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {"$ref": "#/definitions/api.ErrorResponse"}
                    },
                    "502": {
                        "description": "Bad Gateway",
                        "schema": {"$ref": "#/definitions/api.ErrorResponse"}
                    }
                }
            },
            "delete": {
                "description": "Deletes the endpoint, endpoint config and model, then the record. Blocks until the endpoint is gone.",
                "produces": ["application/json"],
                "tags": ["deployments"],
                "summary": "Tear down a deployment",
                "parameters": [
                    {"type": "string", "description": "Deployment name", "name": "name", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/api.StatusResponse"}
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {"$ref": "#/definitions/api.ErrorResponse"}
                    },
                    "502": {
                        "description": "Bad Gateway",
                        "schema": {"$ref": "#/definitions/api.ErrorResponse"}
                    }
                }
            }
        },
        "/api/v1/deployments/{name}/predict": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["deployments"],
                "summary": "Cluster samples on a deployed endpoint",
                "parameters": [
                    {"type": "string", "description": "Deployment name", "name": "name", "in": "path", "required": true},
                    {
                        "description": "One row per sample",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/api.PredictRequest"}
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/api.PredictResponse"}
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {"$ref": "#/definitions/api.ErrorResponse"}
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {"$ref": "#/definitions/api.ErrorResponse"}
                    },
                    "502": {
                        "description": "Bad Gateway",
                        "schema": {"$ref": "#/definitions/api.ErrorResponse"}
                    }
                }
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Liveness",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/api.HealthResponse"}
                    }
                }
            }
        },
        "/health/deep": {
            "get": {
                "description": "Checks IAM, SageMaker, S3 and the configured registry and event stream.",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Dependency health",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/api.DeepHealthResponse"}
                    },
                    "503": {
                        "description": "Service Unavailable",
                        "schema": {"$ref": "#/definitions/api.DeepHealthResponse"}
                    }
                }
            }
        },
        "/ready": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Readiness",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/api.ReadyResponse"}
                    },
                    "503": {
                        "description": "Service Unavailable",
                        "schema": {"$ref": "#/definitions/api.ReadyResponse"}
                    }
                }
            }
        }
    },
    "definitions": {
        "api.DeepHealthResponse": {
            "type": "object",
            "properties": {
                "dependencies": {
                    "type": "object",
                    "additionalProperties": {"$ref": "#/definitions/hosting.ProbeResult"}
                },
                "status": {"type": "string", "example": "healthy"}
            }
        },
        "api.DeployModel": {
            "type": "object",
            "properties": {
                "frameworkVersion": {"type": "string", "example": "0.23-1"},
                "instanceType": {"type": "string", "example": "ml.m5.large"},
                "kind": {"type": "string", "enum": ["trained", "pretrained"]},
                "modelData": {"type": "string", "example": "s3://bucket/simbiot/model.tar.gz"},
                "name": {"type": "string", "example": "clustering"},
                "pyVersion": {"type": "string", "example": "py3"}
            }
        },
        "api.DeployRequest": {
            "type": "object",
            "properties": {
                "config": {"$ref": "#/definitions/hosting.DeploymentConfig"},
                "model": {"$ref": "#/definitions/api.DeployModel"}
            }
        },
        "api.DeploymentList": {
            "type": "object",
            "properties": {
                "deployments": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/hosting.Deployment"}
                }
            }
        },
        "api.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "status": {"type": "string", "example": "error"}
            }
        },
        "api.HealthResponse": {
            "type": "object",
            "properties": {
                "mode": {"type": "string", "example": "shallow"},
                "status": {"type": "string", "example": "healthy"}
            }
        },
        "api.PredictRequest": {
            "type": "object",
            "required": ["instances"],
            "properties": {
                "instances": {
                    "type": "array",
                    "items": {"type": "array", "items": {"type": "number"}}
                }
            }
        },
        "api.PredictResponse": {
            "type": "object",
            "properties": {
                "labels": {"type": "array", "items": {"type": "integer"}}
            }
        },
        "api.ReadyResponse": {
            "type": "object",
            "properties": {
                "ready": {"type": "boolean"}
            }
        },
        "api.StatusResponse": {
            "type": "object",
            "properties": {
                "name": {"type": "string", "example": "clustering"},
                "status": {"type": "string", "example": "accepted"}
            }
        },
        "hosting.Deployment": {
            "type": "object",
            "properties": {
                "config": {"$ref": "#/definitions/hosting.DeploymentConfig"},
                "createdAt": {"type": "string"},
                "endpointConfigName": {"type": "string"},
                "endpointName": {"type": "string"},
                "kind": {"type": "string", "enum": ["trained", "pretrained"]},
                "modelData": {"type": "string"},
                "modelName": {"type": "string"},
                "name": {"type": "string"},
                "roleArn": {"type": "string"},
                "status": {"type": "string", "example": "InService"}
            }
        },
        "hosting.DeploymentConfig": {
            "type": "object",
            "properties": {
                "maxConcurrency": {"type": "integer", "example": 10},
                "memoryMb": {"type": "integer", "example": 4096}
            }
        },
        "hosting.ProbeResult": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "latencyMs": {"type": "integer"},
                "name": {"type": "string"},
                "ok": {"type": "boolean"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8081",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "simbiot API",
	Description:      "Provisions the SageMaker execution role and manages serverless clustering endpoints.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
