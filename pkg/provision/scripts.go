package provision

// Server-side scripts installed on the bootstrap endpoint's operations.

const createScript = `(function process(request, response) {
	var body = request.body.data;
	var flow = new GlideRecord('sys_hub_flow');
	flow.initialize();
	['name', 'internal_name', 'type', 'description', 'category', 'run_as', 'active'].forEach(function (f) {
		if (body[f] !== undefined) flow.setValue(f, body[f]);
	});
	flow.setValue('status', 'draft');
	response.setBody({ flow_id: flow.insert() });
})(request, response);`

const versionScript = `(function process(request, response) {
	var body = request.body.data;
	var version = new GlideRecord('sys_hub_flow_version');
	version.initialize();
	version.setValue('flow', body.flow_id);
	version.setValue('name', '1');
	version.setValue('status', 'published');
	version.setValue('compile_state', 'compiled');
	var id = version.insert();
	var flow = new GlideRecord('sys_hub_flow');
	if (flow.get(body.flow_id)) {
		flow.setValue('latest_version', id);
		flow.update();
	}
	response.setBody({ version_id: id });
})(request, response);`
