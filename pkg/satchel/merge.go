package satchel

import (
	"github.com/imdario/mergo"
	log "github.com/sirupsen/logrus"
)

// CumulativeKeys lists the settings whose values are concatenated across configuration
// layers (least specific first) instead of being replaced by the most specific layer.
// Duplicates are kept.
var CumulativeKeys = map[string]struct{}{
	"sources":       {},
	"requires":      {},
	"test_sources":  {},
	"test_requires": {},
}

// tableKeys lists settings whose values are tables. Every other table inside an app
// or platform section names a platform or format layer.
var tableKeys = map[string]struct{}{
	"publish":       {},
	"permission":    {},
	"document_type": {},
	"entitlement":   {},
	"info":          {},
}

// mergeLayers merges configuration layers ordered from least to most specific
func mergeLayers(layers ...map[string]interface{}) map[string]interface{} {
	res := make(map[string]interface{})
	for _, layer := range layers {
		scalars := make(map[string]interface{}, len(layer))
		for k, v := range layer {
			if _, ok := CumulativeKeys[k]; !ok {
				scalars[k] = deepCopy(v)
				continue
			}

			vs, err := toStringSlice(v)
			if err != nil {
				// keep the value so that validation can report it
				res[k] = v
				continue
			}
			prev, _ := toStringSlice(res[k])
			res[k] = append(append([]string{}, prev...), vs...)
		}

		err := mergo.Merge(&res, scalars, mergo.WithOverride)
		if err != nil {
			log.WithError(err).Warn("cannot merge configuration layer")
		}
	}
	return res
}

// mergePEP621 fills the global layer with values from the [project] table. Values
// in [tool.satchel] take precedence, dependencies are prepended to the requirements.
func mergePEP621(global, project map[string]interface{}) {
	setDefault := func(key string, value interface{}) {
		if value == nil || value == "" {
			return
		}
		if _, exists := global[key]; exists {
			return
		}
		global[key] = value
	}

	setDefault("project_name", project["name"])
	setDefault("version", project["version"])
	setDefault("description", project["description"])

	switch lic := project["license"].(type) {
	case string:
		setDefault("license", lic)
	case map[string]interface{}:
		setDefault("license", lic["text"])
	}

	if urls, ok := project["urls"].(map[string]interface{}); ok {
		setDefault("url", urls["Homepage"])
	}

	if authors, ok := project["authors"].([]interface{}); ok && len(authors) > 0 {
		if author, ok := authors[0].(map[string]interface{}); ok {
			setDefault("author", author["name"])
			setDefault("author_email", author["email"])
		}
	}

	prepend := func(key string, value interface{}) {
		deps, err := toStringSlice(value)
		if err != nil || len(deps) == 0 {
			return
		}
		existing, _ := toStringSlice(global[key])
		global[key] = append(deps, existing...)
	}
	prepend("requires", project["dependencies"])
	if optional, ok := project["optional-dependencies"].(map[string]interface{}); ok {
		prepend("test_requires", optional["test"])
	}
}

// deepCopy copies nested tables so that merging never modifies a layer
func deepCopy(v interface{}) interface{} {
	switch v := v.(type) {
	case map[string]interface{}:
		res := make(map[string]interface{}, len(v))
		for k, e := range v {
			res[k] = deepCopy(e)
		}
		return res
	case []interface{}:
		res := make([]interface{}, len(v))
		for i, e := range v {
			res[i] = deepCopy(e)
		}
		return res
	default:
		return v
	}
}
