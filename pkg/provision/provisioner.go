// Package provision creates flows on the platform, preferring a bootstrap
// scripted REST endpoint and falling back to raw table writes.
package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/otelhelper"
	"github.com/dukex/flowpatch/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	flowTable        = "sys_hub_flow"
	flowVersionTable = "sys_hub_flow_version"
)

// Path names how a flow was created.
type Path string

const (
	PathBootstrap Path = "bootstrap"
	PathRaw       Path = "raw"
)

// CreateRequest describes a new flow.
type CreateRequest struct {
	Name        string          `json:"name"                  validate:"required"`
	Type        models.FlowType `json:"type,omitempty"        validate:"omitempty,oneof=flow subflow"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	RunAs       string          `json:"run_as,omitempty"`
	Active      bool            `json:"active"`
}

// Verification records the post-create consistency check.
type Verification struct {
	LatestVersion string `json:"latest_version,omitempty"`
	Corrected     bool   `json:"corrected"`
	Verified      bool   `json:"verified"`
	Error         string `json:"error,omitempty"`
}

// Result keeps every diagnostic of a create, including the primary path's failure.
type Result struct {
	Flow         *models.Flow   `json:"flow,omitempty"`
	Path         Path           `json:"path,omitempty"`
	PrimaryError string         `json:"primary_error,omitempty"`
	Verification Verification   `json:"verification"`
	Report       *models.Report `json:"report"`
}

type Provisioner struct {
	transport protocol.Transport
	endpoints *EndpointCache
	logger    *slog.Logger
	tracer    trace.Tracer
}

type Option func(*Provisioner)

func WithTracer(tracer trace.Tracer) Option {
	return func(p *Provisioner) {
		p.tracer = tracer
	}
}

func NewProvisioner(transport protocol.Transport, endpoints *EndpointCache, logger *slog.Logger, opts ...Option) *Provisioner {
	p := &Provisioner{
		transport: transport,
		endpoints: endpoints,
		logger:    logger.With("module", "provision"),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.tracer = otelhelper.OrNoop(p.tracer)

	return p
}

// Endpoints exposes the bootstrap endpoint cache.
func (p *Provisioner) Endpoints() *EndpointCache {
	return p.endpoints
}

// Create provisions a flow with a published, compiled first version. The
// result is returned with errors too so that no diagnostic is lost.
func (p *Provisioner) Create(ctx context.Context, req CreateRequest) (*Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "provision.create", attribute.String(otelhelper.FlowNameKey, req.Name))
	defer span.End()

	report := models.NewReport("create", "")
	result := &Result{Report: report}

	if req.Type == "" {
		req.Type = models.FlowTypeFlow
	}

	if err := models.Validate("create flow", req); err != nil {
		report.Fail("validate", err)

		return result, err
	}

	result.Path = PathBootstrap

	flowID, versionID, primaryErr := p.bootstrap(ctx, req, report)
	if primaryErr != nil {
		result.PrimaryError = primaryErr.Error()
		result.Path = PathRaw
		report.Warn("bootstrap", primaryErr)
		p.logger.WarnContext(ctx, "Bootstrap path failed, using raw table writes", "name", req.Name, "error", primaryErr)

		var err error

		flowID, versionID, err = p.raw(ctx, req, flowID, report)
		if err != nil {
			otelhelper.SetError(span, err)
			report.Fail("raw", err)

			return result, fmt.Errorf("failed to create flow %q: %w", req.Name, errors.Join(primaryErr, err))
		}
	}

	report.FlowID = flowID
	span.SetAttributes(
		attribute.String(otelhelper.FlowIDKey, flowID),
		attribute.String(otelhelper.ProvisionPathKey, string(result.Path)),
	)

	result.Verification = p.verify(ctx, flowID, versionID, report)

	flow, err := p.Lookup(ctx, flowID)
	if err != nil {
		report.Warn("read_back", err)
		flow = &models.Flow{ID: flowID, Name: req.Name, InternalName: models.InternalNameFor(req.Name), Type: req.Type}
	}

	result.Flow = flow

	p.logger.InfoContext(ctx, "Flow created", "flow_id", flowID, "path", result.Path, "verified", result.Verification.Verified)

	return result, nil
}

type bootstrapResult struct {
	FlowID    string `json:"flow_id"`
	SysID     string `json:"sys_id"`
	VersionID string `json:"version_id"`
}

func (r bootstrapResult) flowID() string {
	if r.FlowID != "" {
		return r.FlowID
	}

	return r.SysID
}

func (p *Provisioner) bootstrap(ctx context.Context, req CreateRequest, report *models.Report) (string, string, error) {
	if p.endpoints == nil {
		return "", "", errors.New("no bootstrap endpoint configured")
	}

	ep, err := p.endpoints.Get(ctx)
	if err != nil {
		return "", "", err
	}

	body := map[string]any{
		"name":          req.Name,
		"internal_name": models.InternalNameFor(req.Name),
		"type":          string(req.Type),
		"description":   req.Description,
		"category":      req.Category,
		"run_as":        req.RunAs,
		"active":        req.Active,
	}

	created, err := p.post(ctx, ep.Path+"/create", body)
	if flowerrors.IsNotFound(err) {
		report.Warnf("bootstrap.endpoint", "%s answered 404, deriving the endpoint again", ep.Path)
		p.endpoints.Invalidate()

		ep, err = p.endpoints.Get(ctx)
		if err != nil {
			return "", "", err
		}

		created, err = p.post(ctx, ep.Path+"/create", body)
	}

	if err != nil {
		return "", "", err
	}

	flowID := created.flowID()
	if flowID == "" {
		return "", "", errors.New("bootstrap create returned no flow id")
	}

	report.Succeed("bootstrap.create", "created flow %s", flowID)

	versioned, err := p.post(ctx, ep.Path+"/version", map[string]any{"flow_id": flowID})
	if err != nil {
		return flowID, "", fmt.Errorf("failed to version flow %s: %w", flowID, err)
	}

	report.Succeed("bootstrap.version", "created version %s", versioned.VersionID)

	return flowID, versioned.VersionID, nil
}

func (p *Provisioner) post(ctx context.Context, path string, body any) (*bootstrapResult, error) {
	data, err := p.transport.Post(ctx, path, body)
	if err != nil {
		return nil, err
	}

	var out bootstrapResult
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("unreadable response from %s: %w", path, err)
		}
	}

	return &out, nil
}

// raw writes the flow and its version through the table API. An existing
// flowID, left behind by a half-finished bootstrap, is reused.
func (p *Provisioner) raw(ctx context.Context, req CreateRequest, flowID string, report *models.Report) (string, string, error) {
	if flowID == "" {
		flow, err := p.transport.Create(ctx, flowTable, map[string]any{
			"name":          req.Name,
			"internal_name": models.InternalNameFor(req.Name),
			"type":          string(req.Type),
			"description":   req.Description,
			"category":      req.Category,
			"run_as":        req.RunAs,
			"active":        req.Active,
			"status":        string(models.FlowStatusDraft),
		})
		if err != nil {
			return "", "", fmt.Errorf("failed to insert flow: %w", err)
		}

		flowID = flow.SysID()
		report.Succeed("raw.flow", "inserted flow %s", flowID)
	} else {
		report.Succeed("raw.flow", "reusing flow %s", flowID)
	}

	version, err := p.transport.Create(ctx, flowVersionTable, map[string]any{
		"flow":          flowID,
		"name":          "1",
		"status":        string(models.FlowStatusDraft),
		"compile_state": string(models.CompileStateDraft),
	})
	if err != nil {
		return flowID, "", fmt.Errorf("failed to insert version of flow %s: %w", flowID, err)
	}

	report.Succeed("raw.version", "inserted draft version %s", version.SysID())

	_, err = p.transport.Update(ctx, flowVersionTable, version.SysID(), map[string]any{
		"status":        string(models.FlowStatusPublished),
		"compile_state": string(models.CompileStateCompiled),
	})
	if err != nil {
		return flowID, version.SysID(), fmt.Errorf("failed to publish version %s: %w", version.SysID(), err)
	}

	report.Succeed("raw.publish", "published version %s", version.SysID())

	return flowID, version.SysID(), nil
}

// verify checks that the flow points at its latest version, applying one
// corrective update and one re-check when it does not.
func (p *Provisioner) verify(ctx context.Context, flowID, versionID string, report *models.Report) Verification {
	var v Verification

	latest, err := p.latestVersion(ctx, flowID)
	if err != nil {
		v.Error = err.Error()
		report.Warn("verify", err)

		return v
	}

	if latest != "" {
		v.LatestVersion, v.Verified = latest, true
		report.Succeed("verify", "latest version %s", latest)

		return v
	}

	if versionID == "" {
		versionID, err = p.newestVersion(ctx, flowID)
		if err != nil || versionID == "" {
			if err == nil {
				err = fmt.Errorf("flow %s has no version", flowID)
			}

			v.Error = err.Error()
			report.Warn("verify.correct", err)

			return v
		}
	}

	_, err = p.transport.Update(ctx, flowTable, flowID, map[string]any{"latest_version": versionID})
	if err != nil {
		v.Error = err.Error()
		report.Warn("verify.correct", err)

		return v
	}

	v.Corrected = true
	report.Succeed("verify.correct", "set latest version to %s", versionID)

	latest, err = p.latestVersion(ctx, flowID)

	switch {
	case err != nil:
		v.Error = err.Error()
		report.Warn("verify.recheck", err)
	case latest == "":
		v.Error = "latest version still empty after correction"
		report.Warnf("verify.recheck", "%s", v.Error)
	default:
		v.LatestVersion, v.Verified = latest, true
		report.Succeed("verify.recheck", "latest version %s", latest)
	}

	return v
}

func (p *Provisioner) latestVersion(ctx context.Context, flowID string) (string, error) {
	flow, err := p.transport.Get(ctx, flowTable, flowID)
	if err != nil {
		return "", fmt.Errorf("failed to read flow %s: %w", flowID, err)
	}

	return flow.String("latest_version"), nil
}

func (p *Provisioner) newestVersion(ctx context.Context, flowID string) (string, error) {
	rows, err := p.transport.Query(ctx, flowVersionTable, protocol.RecordQuery{
		Query:  "flow=" + flowID + "^ORDERBYDESCsys_created_on",
		Fields: []string{"sys_id"},
		Limit:  1,
	})
	if err != nil || len(rows) == 0 {
		return "", err
	}

	return rows[0].SysID(), nil
}

// Lookup reads a flow by sys_id together with its current version.
func (p *Provisioner) Lookup(ctx context.Context, flowID string) (*models.Flow, error) {
	row, err := p.transport.Get(ctx, flowTable, flowID)
	if err != nil {
		return nil, err
	}

	flow := FlowFromRecord(row)

	if versionID := row.String("latest_version"); versionID != "" {
		version, err := p.transport.Get(ctx, flowVersionTable, versionID)
		if err == nil {
			flow.Version = VersionFromRecord(version, true)
		}
	}

	return flow, nil
}

// Find looks a flow up by sys_id, then by name, then by internal name.
func (p *Provisioner) Find(ctx context.Context, nameOrID string) (*models.Flow, error) {
	flow, err := p.Lookup(ctx, nameOrID)
	if err == nil {
		return flow, nil
	}

	if !flowerrors.IsNotFound(err) {
		return nil, err
	}

	for _, query := range []string{"name=" + nameOrID, "internal_name=" + models.InternalNameFor(nameOrID)} {
		rows, err := p.transport.Query(ctx, flowTable, protocol.RecordQuery{Query: query, Fields: []string{"sys_id"}, Limit: 1})
		if err != nil {
			return nil, err
		}

		if len(rows) > 0 {
			return p.Lookup(ctx, rows[0].SysID())
		}
	}

	return nil, &flowerrors.NotFoundError{Kind: "flow", Name: nameOrID, Attempted: []string{nameOrID, models.InternalNameFor(nameOrID)}}
}
