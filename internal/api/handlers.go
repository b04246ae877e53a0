package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gonum.org/v1/gonum/mat"

	"github.com/LukaK/simbiot/internal/codec"
	"github.com/LukaK/simbiot/internal/hosting"
)

// deploymentService is the subset of *hosting.Orchestrator used by the HTTP
// handlers. Declaring it as an interface allows test doubles to be injected.
type deploymentService interface {
	Deploy(ctx context.Context, spec hosting.ModelSpec, cfg hosting.DeploymentConfig) (*hosting.Predictor, error)
	IsDeploying(name string) bool
	Get(ctx context.Context, name string) (*hosting.Deployment, error)
	List(ctx context.Context) ([]hosting.Deployment, error)
	Predict(ctx context.Context, name string, m *mat.Dense) ([]int, error)
	TearDown(ctx context.Context, name string) error
	RunDeepHealth(ctx context.Context) map[string]hosting.ProbeResult
	IsReady() bool
}

// Defaults fill the fields a deploy request leaves empty.
type Defaults struct {
	Model         hosting.ModelSpec
	Deployment    hosting.DeploymentConfig
	DeployTimeout time.Duration
}

// Handler holds the dependencies shared across all HTTP handlers.
type Handler struct {
	deployments deploymentService
	defaults    Defaults
	logger      *slog.Logger
}

// DeployRequest is the body of POST /api/v1/deployments.
type DeployRequest struct {
	Model  DeployModel              `json:"model"`
	Config hosting.DeploymentConfig `json:"config"`
}

// DeployModel is the part of a ModelSpec a remote caller may choose. The
// source directory, entry point and container image always come from the
// server's own configuration.
type DeployModel struct {
	Kind             hosting.Kind `json:"kind"`
	Name             string       `json:"name"`
	InstanceType     string       `json:"instanceType,omitempty"`
	PyVersion        string       `json:"pyVersion,omitempty"`
	FrameworkVersion string       `json:"frameworkVersion,omitempty"`
	ModelData        string       `json:"modelData,omitempty"`
}

func (m DeployModel) spec() hosting.ModelSpec {
	return hosting.ModelSpec{
		Kind:             m.Kind,
		Name:             m.Name,
		InstanceType:     m.InstanceType,
		PyVersion:        m.PyVersion,
		FrameworkVersion: m.FrameworkVersion,
		ModelData:        m.ModelData,
	}
}

// decodeDeployRequest reads an optional JSON body. Unknown fields, such as
// sourceDir or imageUri, are rejected.
func decodeDeployRequest(r *http.Request) (DeployRequest, error) {
	var req DeployRequest
	if r.Body == nil || r.ContentLength == 0 {
		return req, nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, fmt.Errorf("invalid deploy request: %w", err)
	}
	return req, nil
}

// PredictRequest is the body of POST /api/v1/deployments/:name/predict. Each
// instance is one sample.
type PredictRequest struct {
	Instances [][]float64 `json:"instances" binding:"required"`
}

// PredictResponse carries one cluster label per instance; -1 marks noise.
type PredictResponse struct {
	Labels []int `json:"labels"`
}

// ErrorResponse is returned with every 4xx and 5xx.
type ErrorResponse struct {
	Status string `json:"status" example:"error"`
	Error  string `json:"error"`
}

// StatusResponse reports the state of a named deployment request.
type StatusResponse struct {
	Status string `json:"status" example:"accepted"`
	Name   string `json:"name" example:"clustering"`
}

// DeploymentList is the body of GET /api/v1/deployments.
type DeploymentList struct {
	Deployments []hosting.Deployment `json:"deployments"`
}

type HealthResponse struct {
	Status string `json:"status" example:"healthy"`
	Mode   string `json:"mode" example:"shallow"`
}

type DeepHealthResponse struct {
	Status       string                         `json:"status" example:"healthy"`
	Dependencies map[string]hosting.ProbeResult `json:"dependencies"`
}

type ReadyResponse struct {
	Ready bool `json:"ready"`
}

func errorBody(err error) ErrorResponse {
	return ErrorResponse{Status: "error", Error: err.Error()}
}

// CreateDeployment handles POST /api/v1/deployments.
// The request is validated synchronously; deployment then runs in a
// background goroutine and the handler returns 202.
//
//	@Summary		Deploy a model to a serverless endpoint
//	@Description	Validates the request, starts the deployment in the background and returns at once. Source directory, entry point and container image come from server configuration. A name that is being deployed or already has an endpoint is rejected with 409.
//	@Tags			deployments
//	@Accept			json
//	@Produce		json
//	@Param			request	body		DeployRequest	false	"Overrides for the configured model and deployment defaults"
//	@Success		202		{object}	StatusResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		409		{object}	StatusResponse
//	@Router			/api/v1/deployments [post]
func (h *Handler) CreateDeployment(c *gin.Context) {
	req, err := decodeDeployRequest(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err))
		return
	}
	spec := mergeSpec(h.defaults.Model, req.Model.spec())
	cfg := mergeConfig(h.defaults.Deployment, req.Config)

	if err := errors.Join(spec.Validate(), cfg.Validate()); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err))
		return
	}
	if h.deployments.IsDeploying(spec.Name) {
		c.JSON(http.StatusConflict, StatusResponse{Status: "in-progress", Name: spec.Name})
		return
	}
	if _, err := h.deployments.Get(c.Request.Context(), spec.Name); err == nil {
		c.JSON(http.StatusConflict, StatusResponse{Status: "exists", Name: spec.Name})
		return
	}

	reqCtx := context.WithoutCancel(c.Request.Context())
	go func() {
		ctx, cancel := reqCtx, context.CancelFunc(func() {})
		if h.defaults.DeployTimeout > 0 {
			ctx, cancel = context.WithTimeout(reqCtx, h.defaults.DeployTimeout)
		}
		defer cancel()
		if _, err := h.deployments.Deploy(ctx, spec, cfg); err != nil {
			h.logger.ErrorContext(ctx, "background deployment failed", "deployment", spec.Name, "error", err)
		}
	}()
	c.JSON(http.StatusAccepted, StatusResponse{Status: "accepted", Name: spec.Name})
}

// ListDeployments handles GET /api/v1/deployments.
//
//	@Summary	List deployments
//	@Tags		deployments
//	@Produce	json
//	@Success	200	{object}	DeploymentList
//	@Failure	500	{object}	ErrorResponse
//	@Router		/api/v1/deployments [get]
func (h *Handler) ListDeployments(c *gin.Context) {
	list, err := h.deployments.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err))
		return
	}
	c.JSON(http.StatusOK, DeploymentList{Deployments: list})
}

// GetDeployment handles GET /api/v1/deployments/:name.
//
//	@Summary	Get a deployment
//	@Tags		deployments
//	@Produce	json
//	@Param		name	path		string	true	"Deployment name"
//	@Success	200		{object}	hosting.Deployment
//	@Failure	404		{object}	ErrorResponse
//	@Failure	502		{object}	ErrorResponse
//	@Router		/api/v1/deployments/{name} [get]
func (h *Handler) GetDeployment(c *gin.Context) {
	name := c.Param("name")
	d, err := h.deployments.Get(c.Request.Context(), name)
	if err != nil {
		c.JSON(statusFor(err), errorBody(err))
		return
	}
	c.JSON(http.StatusOK, d)
}

// DeleteDeployment handles DELETE /api/v1/deployments/:name.
// It blocks until the endpoint is gone.
//
//	@Summary		Tear down a deployment
//	@Description	Deletes the endpoint, endpoint config and model, then the record. Blocks until the endpoint is gone.
//	@Tags			deployments
//	@Produce		json
//	@Param			name	path		string	true	"Deployment name"
//	@Success		200		{object}	StatusResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		502		{object}	ErrorResponse
//	@Router			/api/v1/deployments/{name} [delete]
func (h *Handler) DeleteDeployment(c *gin.Context) {
	name := c.Param("name")
	if err := h.deployments.TearDown(c.Request.Context(), name); err != nil {
		c.JSON(statusFor(err), errorBody(err))
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "deleted", Name: name})
}

// Predict handles POST /api/v1/deployments/:name/predict.
//
//	@Summary	Cluster samples on a deployed endpoint
//	@Tags		deployments
//	@Accept		json
//	@Produce	json
//	@Param		name	path		string			true	"Deployment name"
//	@Param		request	body		PredictRequest	true	"One row per sample"
//	@Success	200		{object}	PredictResponse
//	@Failure	400		{object}	ErrorResponse
//	@Failure	404		{object}	ErrorResponse
//	@Failure	502		{object}	ErrorResponse
//	@Router		/api/v1/deployments/{name}/predict [post]
func (h *Handler) Predict(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err))
		return
	}
	m, err := codec.FromRows(req.Instances)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err))
		return
	}

	labels, err := h.deployments.Predict(c.Request.Context(), c.Param("name"), m)
	if err != nil {
		c.JSON(statusFor(err), errorBody(err))
		return
	}
	c.JSON(http.StatusOK, PredictResponse{Labels: labels})
}

// Health handles GET /health.
// It always returns 200; this is the liveness probe.
//
//	@Summary	Liveness
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Router		/health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Mode: "shallow"})
}

// DeepHealth handles GET /health/deep.
// It probes every configured dependency and returns 200 only when all are OK.
//
//	@Summary		Dependency health
//	@Description	Checks IAM, SageMaker, S3 and the configured registry and event stream.
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	DeepHealthResponse
//	@Failure		503	{object}	DeepHealthResponse
//	@Router			/health/deep [get]
func (h *Handler) DeepHealth(c *gin.Context) {
	probes := h.deployments.RunDeepHealth(c.Request.Context())

	allOK := true
	for _, p := range probes {
		if !p.OK {
			allOK = false
			break
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !allOK {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, DeepHealthResponse{Status: status, Dependencies: probes})
}

// Ready handles GET /ready.
// It returns 200 once the execution role has been resolved; 503 otherwise.
//
//	@Summary	Readiness
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	ReadyResponse
//	@Failure	503	{object}	ReadyResponse
//	@Router		/ready [get]
func (h *Handler) Ready(c *gin.Context) {
	if h.deployments.IsReady() {
		c.JSON(http.StatusOK, ReadyResponse{Ready: true})
		return
	}
	c.JSON(http.StatusServiceUnavailable, ReadyResponse{Ready: false})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, hosting.ErrDeploymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, hosting.ErrDeployInProgress), errors.Is(err, hosting.ErrDeploymentExists):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// mergeSpec returns req with empty fields taken from def. Kind-specific
// fields only inherit when the kinds agree.
func mergeSpec(def, req hosting.ModelSpec) hosting.ModelSpec {
	sameKind := req.Kind == "" || req.Kind == def.Kind
	out := req
	if out.Kind == "" {
		out.Kind = def.Kind
	}
	pick := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	pick(&out.Name, def.Name)
	pick(&out.EntryPoint, def.EntryPoint)
	pick(&out.SourceDir, def.SourceDir)
	pick(&out.PyVersion, def.PyVersion)
	pick(&out.FrameworkVersion, def.FrameworkVersion)
	pick(&out.ImageURI, def.ImageURI)
	pick(&out.InstanceType, def.InstanceType)
	if sameKind {
		pick(&out.ModelData, def.ModelData)
	}
	return out
}

func mergeConfig(def, req hosting.DeploymentConfig) hosting.DeploymentConfig {
	if req.MemoryMB == 0 {
		req.MemoryMB = def.MemoryMB
	}
	if req.MaxConcurrency == 0 {
		req.MaxConcurrency = def.MaxConcurrency
	}
	return req
}
