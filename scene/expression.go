package scene

// Expression drives an attribute from other attributes: a constant plus a weighted sum of its
// inputs, plus an optional multiple of time.
type Expression struct {
	Inputs       []string  `json:"inputs"`
	Coefficients []float64 `json:"coefficients"`
	Constant     float64   `json:"constant"`
	TimeScale    float64   `json:"time_scale"`
}
