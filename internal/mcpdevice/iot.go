package mcpdevice

import "encoding/json"

// IoTDescriptor is one device-exposed controllable entity, announced once
// per connection inside a {type:"iot", descriptors:[...]} frame.
type IoTDescriptor struct {
	Name       string                    `json:"name"`
	Properties map[string]IoTProperty    `json:"properties"`
	Methods    map[string]IoTMethodDescr `json:"methods"`
}

type IoTProperty struct {
	Description string `json:"description"`
	Type        string `json:"type"`
}

type IoTMethodDescr struct {
	Description string                   `json:"description"`
	Parameters  map[string]IoTMethodParam `json:"parameters,omitempty"`
}

type IoTMethodParam struct {
	Description string `json:"description"`
	Type        string `json:"type"`
}

// IoTState is one device's reported property values, sent whenever they
// change inside a {type:"iot", states:[...]} frame.
type IoTState struct {
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties"`
}

// IoTCommand is a server-issued method invocation, sent to the device
// inside a {type:"iot", commands:[...]} frame.
type IoTCommand struct {
	Name       string         `json:"name"`
	Method     string         `json:"method"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// IoTRegistry tracks a device's currently-announced descriptors and latest
// reported state, so tool calls can be translated into commands and
// command results can be read back out of subsequent state reports.
type IoTRegistry struct {
	descriptors map[string]IoTDescriptor
	states      map[string]IoTState
}

func NewIoTRegistry() *IoTRegistry {
	return &IoTRegistry{
		descriptors: make(map[string]IoTDescriptor),
		states:      make(map[string]IoTState),
	}
}

func (r *IoTRegistry) SetDescriptors(descs []IoTDescriptor) {
	for _, d := range descs {
		r.descriptors[d.Name] = d
	}
}

func (r *IoTRegistry) SetState(s IoTState) {
	r.states[s.Name] = s
}

func (r *IoTRegistry) State(name string) (IoTState, bool) {
	s, ok := r.states[name]
	return s, ok
}

func (r *IoTRegistry) Descriptors() []IoTDescriptor {
	out := make([]IoTDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	return out
}

// HasMethod reports whether device.method is a known IoT method, which the
// unified tool handler uses to decide whether a function-call name maps to
// an IoT command rather than a server plugin or MCP tool.
func (r *IoTRegistry) HasMethod(device, method string) bool {
	d, ok := r.descriptors[device]
	if !ok {
		return false
	}
	_, ok = d.Methods[method]
	return ok
}

// ParseIoTFrame decodes a {type:"iot", ...} frame's payload into whichever
// of descriptors/states it carries.
func ParseIoTFrame(raw json.RawMessage) (descriptors []IoTDescriptor, states []IoTState, err error) {
	var body struct {
		Descriptors []IoTDescriptor `json:"descriptors,omitempty"`
		States      []IoTState      `json:"states,omitempty"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, nil, err
	}
	return body.Descriptors, body.States, nil
}
