package template

// BindingContext is the template context for a service binding.
func BindingContext(service, binding, protocol, host string, port int) map[string]interface{} {
	return map[string]interface{}{
		"Name":     service,
		"Binding":  binding,
		"Protocol": protocol,
		"Host":     host,
		"Port":     port,
	}
}

// MergeContexts merges contexts left to right; later keys win.
func MergeContexts(contexts ...map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for _, ctx := range contexts {
		for key, value := range ctx {
			result[key] = value
		}
	}
	return result
}
