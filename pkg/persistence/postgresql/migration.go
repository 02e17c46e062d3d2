package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id BIGSERIAL PRIMARY KEY,
				key VARCHAR(255) NOT NULL,
				title TEXT NOT NULL,
				type VARCHAR(255) NOT NULL,
				enabled BOOLEAN NOT NULL DEFAULT false,
				sync BOOLEAN NOT NULL DEFAULT false,
				config JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_key ON workflows(key);
			CREATE INDEX idx_workflows_type ON workflows(type);
			CREATE UNIQUE INDEX workflows_single_enabled ON workflows(key) WHERE enabled;

			CREATE TABLE flow_nodes (
				id BIGSERIAL PRIMARY KEY,
				workflow_id BIGINT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				key VARCHAR(255) NOT NULL,
				type VARCHAR(255) NOT NULL,
				title TEXT NOT NULL DEFAULT '',
				config JSONB NOT NULL DEFAULT '{}',
				position INT NOT NULL,
				upstream_id BIGINT REFERENCES flow_nodes(id),
				downstream_id BIGINT REFERENCES flow_nodes(id)
			);

			CREATE INDEX idx_flow_nodes_workflow_id ON flow_nodes(workflow_id);
			CREATE UNIQUE INDEX idx_flow_nodes_workflow_key ON flow_nodes(workflow_id, key);
		`,
		2: `
			CREATE TABLE executions (
				id BIGSERIAL PRIMARY KEY,
				workflow_id BIGINT NOT NULL REFERENCES workflows(id),
				key VARCHAR(255) NOT NULL,
				status INT NOT NULL,
				context JSONB NOT NULL DEFAULT '{}',
				parent_id BIGINT REFERENCES executions(id),
				parent_node_id BIGINT REFERENCES flow_nodes(id),
				depth INT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_parent_id ON executions(parent_id);

			CREATE TABLE jobs (
				id BIGSERIAL PRIMARY KEY,
				execution_id BIGINT NOT NULL REFERENCES executions(id),
				node_id BIGINT NOT NULL REFERENCES flow_nodes(id),
				node_key VARCHAR(255) NOT NULL,
				position INT NOT NULL,
				status INT NOT NULL,
				result JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_jobs_execution_id ON jobs(execution_id, position);
			CREATE UNIQUE INDEX jobs_single_pending ON jobs(execution_id) WHERE status = 0;
		`,
	}
}
