package server

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string                 `json:"code,omitempty"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// RunError is returned when the pipeline rejects a valid request.
type RunError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ObservationRequest is one ATM quote. TenorDays is derived from as_of when
// omitted.
type ObservationRequest struct {
	Expiration        string  `json:"expiration" validate:"required,datetime=2006-01-02"`
	TenorDays         int     `json:"tenor_days" validate:"gte=0"`
	Strike            float64 `json:"strike" validate:"gte=0"`
	ImpliedVolatility float64 `json:"implied_volatility" validate:"gt=0"`
}

// SurfaceRequest overrides the surface settings.
type SurfaceRequest struct {
	DecayLambda *float64 `json:"decay_lambda" default:"0.30" validate:"gte=0"`
	MaxDays     *int     `json:"max_days" default:"10" validate:"gte=0,lte=365"`
	TenorPoints *int     `json:"tenor_points" default:"50" validate:"gte=2,lte=1000"`
}

// AnalyzeRequest runs the pipeline over caller supplied observations.
type AnalyzeRequest struct {
	Underlying   string               `json:"underlying" validate:"required,max=16"`
	AsOf         string               `json:"as_of" validate:"required,datetime=2006-01-02"`
	EventDate    string               `json:"event_date" validate:"omitempty,datetime=2006-01-02"`
	Policy       string               `json:"policy" default:"variance" validate:"oneof=variance linear"`
	Observations []ObservationRequest `json:"observations" validate:"required,min=1,dive"`
	Surface      SurfaceRequest       `json:"surface"`
	TargetTenor  *float64             `json:"target_tenor" default:"5" validate:"gte=0"`
}

// SnapshotRequest runs the pipeline over a chain fetched from the configured
// provider.
type SnapshotRequest struct {
	Underlying  string `param:"underlying" validate:"required,max=16"`
	AsOf        string `query:"as_of" validate:"omitempty,datetime=2006-01-02"`
	Expirations int    `query:"expirations" default:"4" validate:"gte=1,lte=24"`
	Policy      string `query:"policy" default:"variance" validate:"oneof=variance linear"`
}
