package postgresql

import "github.com/dukex/flowpatch/pkg/persistence/sqlbase"

// migrationLockKey is the advisory lock held while flowpatch migrates.
const migrationLockKey int64 = 0x666c6f77

func migrations() []sqlbase.Migration {
	return []sqlbase.Migration{
		{
			Version: 1,
			Name:    "edit_sessions",
			SQL: `
				CREATE TABLE edit_sessions (
					flow_id VARCHAR(32) PRIMARY KEY,
					holder VARCHAR(255),
					can_edit BOOLEAN NOT NULL DEFAULT false,
					opened_at TIMESTAMP WITH TIME ZONE NOT NULL,
					released_at TIMESTAMP WITH TIME ZONE
				);

				CREATE INDEX idx_edit_sessions_released_at ON edit_sessions(released_at);
			`,
		},
		{
			Version: 2,
			Name:    "reports",
			SQL: `
				CREATE TABLE reports (
					id UUID PRIMARY KEY,
					operation VARCHAR(64) NOT NULL,
					flow_id VARCHAR(32),
					steps JSONB NOT NULL DEFAULT '[]',
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_reports_flow_id ON reports(flow_id);
				CREATE INDEX idx_reports_created_at ON reports(created_at);
			`,
		},
	}
}
