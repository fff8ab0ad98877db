package schema

// Mapping returns the index body (settings + mappings) applied to every
// event index. Identifiers and enums are keywords, message-like fields are
// text with a keyword sub-field, user.ip is an ip field and geo.location a
// geo_point.
func Mapping() map[string]interface{} {
	return map[string]interface{}{
		"settings": map[string]interface{}{
			"number_of_shards":                 3,
			"number_of_replicas":               1,
			"refresh_interval":                 "5s",
			"index.mapping.total_fields.limit": 2000,
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"@timestamp":  map[string]interface{}{"type": "date"},
				"received_at": map[string]interface{}{"type": "date"},
				"event_id":    map[string]interface{}{"type": "keyword"},
				"project_id":  map[string]interface{}{"type": "integer"},

				"level":       map[string]interface{}{"type": "keyword"},
				"platform":    map[string]interface{}{"type": "keyword"},
				"environment": map[string]interface{}{"type": "keyword"},
				"release":     map[string]interface{}{"type": "keyword"},
				"transaction": map[string]interface{}{"type": "keyword"},
				"server_name": map[string]interface{}{"type": "keyword"},
				"logger":      map[string]interface{}{"type": "keyword"},

				"message": map[string]interface{}{
					"type":     "text",
					"analyzer": "standard",
					"fields": map[string]interface{}{
						"keyword": map[string]interface{}{
							"type":         "keyword",
							"ignore_above": 256,
						},
					},
				},
				"exception_type": map[string]interface{}{"type": "keyword"},
				"exception_value": map[string]interface{}{
					"type": "text",
					"fields": map[string]interface{}{
						"keyword": map[string]interface{}{
							"type":         "keyword",
							"ignore_above": 256,
						},
					},
				},
				"stacktrace": map[string]interface{}{"type": "text"},

				"user": map[string]interface{}{
					"properties": map[string]interface{}{
						"id":         map[string]interface{}{"type": "keyword"},
						"email_hash": map[string]interface{}{"type": "keyword"},
						"username":   map[string]interface{}{"type": "keyword"},
						"ip":         map[string]interface{}{"type": "ip"},
					},
				},
				"geo": map[string]interface{}{
					"properties": map[string]interface{}{
						"country_code": map[string]interface{}{"type": "keyword"},
						"country_name": map[string]interface{}{"type": "keyword"},
						"region_name":  map[string]interface{}{"type": "keyword"},
						"city":         map[string]interface{}{"type": "keyword"},
						"location":     map[string]interface{}{"type": "geo_point"},
					},
				},
				"browser": map[string]interface{}{
					"properties": map[string]interface{}{
						"name":    map[string]interface{}{"type": "keyword"},
						"version": map[string]interface{}{"type": "keyword"},
					},
				},
				"os": map[string]interface{}{
					"properties": map[string]interface{}{
						"name":    map[string]interface{}{"type": "keyword"},
						"version": map[string]interface{}{"type": "keyword"},
					},
				},
				"device": map[string]interface{}{
					"properties": map[string]interface{}{
						"family": map[string]interface{}{"type": "keyword"},
						"model":  map[string]interface{}{"type": "keyword"},
						"brand":  map[string]interface{}{"type": "keyword"},
					},
				},
				"runtime": map[string]interface{}{
					"properties": map[string]interface{}{
						"name":    map[string]interface{}{"type": "keyword"},
						"version": map[string]interface{}{"type": "keyword"},
					},
				},
				"request": map[string]interface{}{
					"properties": map[string]interface{}{
						"url":    map[string]interface{}{"type": "keyword"},
						"method": map[string]interface{}{"type": "keyword"},
					},
				},
				"tags": map[string]interface{}{
					"type":    "object",
					"dynamic": true,
				},
				"sdk": map[string]interface{}{
					"properties": map[string]interface{}{
						"name":    map[string]interface{}{"type": "keyword"},
						"version": map[string]interface{}{"type": "keyword"},
					},
				},
				"fingerprint": map[string]interface{}{"type": "keyword"},
			},
		},
	}
}

// IndexTemplate returns the composable index template body for the given
// prefix, matching every day-sharded index at priority 100.
func IndexTemplate(prefix string) map[string]interface{} {
	return map[string]interface{}{
		"index_patterns": []string{prefix + "-*"},
		"template":       Mapping(),
		"priority":       100,
		"_meta": map[string]interface{}{
			"description": "Template for Sentry event indices",
		},
	}
}

// ISMPolicy returns the Index State Management policy body:
// hot (rollover) -> warm at 7d (force-merge to one segment) -> cold at
// 30d -> delete at 90d.
func ISMPolicy(prefix string) map[string]interface{} {
	return map[string]interface{}{
		"policy": map[string]interface{}{
			"description":   "Sentry events lifecycle policy",
			"default_state": "hot",
			"states": []map[string]interface{}{
				{
					"name": "hot",
					"actions": []map[string]interface{}{
						{
							"rollover": map[string]interface{}{
								"min_size":      "50gb",
								"min_index_age": "1d",
							},
						},
					},
					"transitions": []map[string]interface{}{
						{
							"state_name": "warm",
							"conditions": map[string]interface{}{
								"min_index_age": "7d",
							},
						},
					},
				},
				{
					"name": "warm",
					"actions": []map[string]interface{}{
						{
							"force_merge": map[string]interface{}{
								"max_num_segments": 1,
							},
						},
					},
					"transitions": []map[string]interface{}{
						{
							"state_name": "cold",
							"conditions": map[string]interface{}{
								"min_index_age": "30d",
							},
						},
					},
				},
				{
					"name":    "cold",
					"actions": []map[string]interface{}{},
					"transitions": []map[string]interface{}{
						{
							"state_name": "delete",
							"conditions": map[string]interface{}{
								"min_index_age": "90d",
							},
						},
					},
				},
				{
					"name": "delete",
					"actions": []map[string]interface{}{
						{"delete": map[string]interface{}{}},
					},
					"transitions": []map[string]interface{}{},
				},
			},
			"ism_template": map[string]interface{}{
				"index_patterns": []string{prefix + "-*"},
				"priority":       100,
			},
		},
	}
}
