package provision

import (
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/protocol"
)

// FlowFromRecord maps a sys_hub_flow row.
func FlowFromRecord(r protocol.Record) *models.Flow {
	flowType := models.FlowType(r.String("type"))
	if flowType == "" {
		flowType = models.FlowTypeFlow
	}

	return &models.Flow{
		ID:           r.SysID(),
		Name:         r.String("name"),
		InternalName: r.String("internal_name"),
		Type:         flowType,
		Category:     r.String("category"),
		RunAs:        r.String("run_as"),
		Description:  r.String("description"),
		Scope:        r.String("sys_scope"),
		Active:       r.Bool("active"),
		Status:       models.FlowStatus(r.String("status")),
	}
}

// VersionFromRecord maps a sys_hub_flow_version row.
func VersionFromRecord(r protocol.Record, current bool) *models.Version {
	v := &models.Version{
		ID:           r.SysID(),
		FlowID:       r.String("flow"),
		Name:         r.String("name"),
		Status:       models.FlowStatus(r.String("status")),
		CompileState: models.CompileState(r.String("compile_state")),
		Current:      current,
	}

	if payload := r.String("payload"); payload != "" {
		v.Payload = []byte(payload)
	}

	return v
}
