package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create workflows table
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'paused', 'archived')),
				trigger_type VARCHAR(50) NOT NULL,
				trigger_conditions JSONB NOT NULL DEFAULT '{}',
				steps JSONB NOT NULL DEFAULT '[]',
				variables JSONB NOT NULL DEFAULT '{}',
				owner VARCHAR(255),
				version INTEGER NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_status_trigger ON workflows(status, trigger_type);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);

			-- Create contacts table
			CREATE TABLE contacts (
				id VARCHAR(255) PRIMARY KEY,
				email VARCHAR(320),
				phone VARCHAR(64),
				first_name VARCHAR(255),
				last_name VARCHAR(255),
				tags TEXT[] NOT NULL DEFAULT '{}',
				custom_fields JSONB NOT NULL DEFAULT '{}',
				deal_stage VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				last_contacted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_contacts_tags ON contacts USING GIN (tags);
			CREATE INDEX idx_contacts_created_month_day ON contacts (
				(EXTRACT(MONTH FROM created_at AT TIME ZONE 'UTC')),
				(EXTRACT(DAY FROM created_at AT TIME ZONE 'UTC'))
			);
		`,
		2: `
			-- Create executions table
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				workflow_version INTEGER NOT NULL,
				contact_id VARCHAR(255) NOT NULL,
				current_step_id VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'waiting_delay', 'completed', 'failed', 'cancelled')),
				steps JSONB NOT NULL DEFAULT '[]',
				context JSONB NOT NULL DEFAULT '{}',
				error_message TEXT,
				cancel_reason TEXT,
				version INTEGER NOT NULL DEFAULT 1,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				resume_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			-- At most one in-flight execution per workflow and contact
			CREATE UNIQUE INDEX idx_executions_active_pair ON executions(workflow_id, contact_id)
				WHERE status IN ('running', 'waiting_delay');

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_contact_id ON executions(contact_id);
			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_resume_at ON executions(resume_at) WHERE status = 'waiting_delay';
		`,
	}
}
