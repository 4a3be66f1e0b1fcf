package server

import (
	"encoding/json"
	"testing"
)

var wantTools = []string{
	"image_info",
	"image_statistics",
	"image_thumbnail",
	"image_extract_region",
	"image_crop_quadrant",
	"image_smart_crop",
	"image_tiles",
	"image_transform",
	"image_composite",
	"image_draw",
	"image_sample_color",
	"image_sample_colors_multi",
	"image_detect_background",
	"image_find_trim",
	"image_edge_detect",
	"engine_stats",
	"cache_clear",
	"cache_set_limits",
	"reset_high_water",
}

func toolMap() map[string]Tool {
	m := make(map[string]Tool)
	for _, tool := range GetToolDefinitions() {
		m[tool.Name] = tool
	}
	return m
}

func TestGetToolDefinitions(t *testing.T) {
	tools := GetToolDefinitions()
	if len(tools) != len(wantTools) {
		t.Errorf("Tool count: got %d, want %d", len(tools), len(wantTools))
	}

	m := toolMap()
	for _, name := range wantTools {
		if _, ok := m[name]; !ok {
			t.Errorf("Expected tool %s not found", name)
		}
	}
}

// Every defined tool must be dispatched by executeTool.
func TestGetToolDefinitions_Dispatched(t *testing.T) {
	s := newTestServer(t)
	for _, tool := range GetToolDefinitions() {
		_, err := s.executeTool(tool.Name, json.RawMessage(`{"path":"/nonexistent/image.png"}`))
		if err != nil && err.Error() == "unknown tool: "+tool.Name {
			t.Errorf("%s is defined but not dispatched", tool.Name)
		}
	}
}

func TestToolDefinitions_Structure(t *testing.T) {
	for _, tool := range GetToolDefinitions() {
		t.Run(tool.Name, func(t *testing.T) {
			if tool.Description == "" {
				t.Error("Tool description is empty")
			}
			if tool.InputSchema["type"] != "object" {
				t.Errorf("InputSchema type: got %v, want 'object'", tool.InputSchema["type"])
			}
			props, ok := tool.InputSchema["properties"].(map[string]interface{})
			if !ok {
				t.Fatal("InputSchema properties should be a map")
			}

			// Required parameters must be declared.
			required, _ := tool.InputSchema["required"].([]string)
			for _, r := range required {
				if _, ok := props[r]; !ok {
					t.Errorf("required parameter %s has no property", r)
				}
			}

			// The schema must survive the tools/list encoding.
			if _, err := json.Marshal(tool); err != nil {
				t.Errorf("marshal: %v", err)
			}
		})
	}
}

func TestToolDefinitions_Required(t *testing.T) {
	tests := []struct {
		tool string
		want []string
	}{
		{"image_info", []string{"path"}},
		{"image_thumbnail", []string{"path", "width", "height"}},
		{"image_extract_region", []string{"path", "x", "y", "width", "height"}},
		{"image_crop_quadrant", []string{"path", "region"}},
		{"image_composite", []string{"path", "overlay_path"}},
		{"image_sample_color", []string{"path", "x", "y"}},
		{"image_find_trim", []string{"path"}},
		{"engine_stats", nil},
	}

	m := toolMap()
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			tool, ok := m[tt.tool]
			if !ok {
				t.Fatalf("%s not found", tt.tool)
			}
			got, _ := tool.InputSchema["required"].([]string)
			have := make(map[string]bool)
			for _, r := range got {
				have[r] = true
			}
			for _, r := range tt.want {
				if !have[r] {
					t.Errorf("%s should require '%s'", tt.tool, r)
				}
			}
			if len(got) != len(tt.want) {
				t.Errorf("required: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToolDefinitions_Enums(t *testing.T) {
	tests := []struct {
		tool, prop string
		want       []string
	}{
		{"image_crop_quadrant", "region", []string{
			"top-left", "top-right", "bottom-left", "bottom-right",
			"top-half", "bottom-half", "left-half", "right-half", "center",
		}},
		{"image_thumbnail", "kernel", kernelNames},
		{"image_smart_crop", "interesting", interestingNames},
		{"image_edge_detect", "method", []string{"canny", "sobel"}},
	}

	m := toolMap()
	for _, tt := range tests {
		t.Run(tt.tool+"."+tt.prop, func(t *testing.T) {
			props := m[tt.tool].InputSchema["properties"].(map[string]interface{})
			prop, ok := props[tt.prop].(map[string]interface{})
			if !ok {
				t.Fatalf("%s property should exist and be a map", tt.prop)
			}
			enum, ok := prop["enum"].([]string)
			if !ok {
				t.Fatalf("%s should have enum", tt.prop)
			}
			have := make(map[string]bool)
			for _, e := range enum {
				have[e] = true
			}
			for _, v := range tt.want {
				if !have[v] {
					t.Errorf("Expected '%s' in enum", v)
				}
			}
		})
	}
}

func TestHandleToolsList(t *testing.T) {
	s := newTestServer(t)
	resp := s.handleToolsList(&MCPRequest{JSONRPC: "2.0", ID: 1})

	if resp.Error != nil {
		t.Fatalf("Unexpected error: %v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatal("Result should be a map")
	}
	tools, ok := result["tools"].([]Tool)
	if !ok {
		t.Fatal("tools should be a slice of Tool")
	}
	if len(tools) != len(wantTools) {
		t.Errorf("Tool count: got %d, want %d", len(tools), len(wantTools))
	}
}
