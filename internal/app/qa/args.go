package qa

import "encoding/json"

// clampTopK 约束模型给出的 top_k：缺省或非法时取请求的 k，超过 k 时截到 k
func clampTopK(arguments string, k int) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil || args == nil {
		return arguments
	}
	if v, ok := args["top_k"].(float64); ok && v > 0 && v <= float64(k) {
		return arguments
	}
	args["top_k"] = k
	data, err := json.Marshal(args)
	if err != nil {
		return arguments
	}
	return string(data)
}
