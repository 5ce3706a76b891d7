package application

// Seed is the initial input of an application.
type Seed struct {
	CustomerID   string         `json:"customer_id"`
	PersonalInfo map[string]any `json:"personal_info"`
	CarImageRefs []string       `json:"car_image_refs"`
	DocumentRefs []string       `json:"document_refs"`
}

// SeedFromPayload extracts the seed keys. Missing or mistyped keys become empty values.
func SeedFromPayload(payload map[string]any) Seed {
	seed := Seed{
		PersonalInfo: map[string]any{},
		CarImageRefs: []string{},
		DocumentRefs: []string{},
	}
	if payload == nil {
		return seed
	}

	if id, ok := payload[KeyCustomerID].(string); ok {
		seed.CustomerID = id
	}
	if info, ok := payload[KeyPersonalInfo].(map[string]any); ok && info != nil {
		seed.PersonalInfo = copyMap(info)
	}
	seed.CarImageRefs = stringList(payload[KeyCarImageRefs])
	seed.DocumentRefs = stringList(payload[KeyDocumentRefs])
	return seed
}

// Payload converts the seed back into the start-processing payload shape.
func (s Seed) Payload() map[string]any {
	return map[string]any{
		KeyCustomerID:   s.CustomerID,
		KeyPersonalInfo: copyMap(s.PersonalInfo),
		KeyCarImageRefs: append([]string{}, s.CarImageRefs...),
		KeyDocumentRefs: append([]string{}, s.DocumentRefs...),
	}
}

func (s Seed) clone() Seed {
	return Seed{
		CustomerID:   s.CustomerID,
		PersonalInfo: copyMap(s.PersonalInfo),
		CarImageRefs: append([]string{}, s.CarImageRefs...),
		DocumentRefs: append([]string{}, s.DocumentRefs...),
	}
}

func stringList(v any) []string {
	out := []string{}
	switch list := v.(type) {
	case []string:
		for _, s := range list {
			if s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
