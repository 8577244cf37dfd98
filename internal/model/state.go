package model

// ConnectionState is the push-channel lifecycle state.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnReconnecting ConnectionState = "reconnecting"
	ConnError        ConnectionState = "error"
)

// TrackingState reflects the local position publisher only.
type TrackingState string

const (
	TrackingInactive TrackingState = "inactive"
	TrackingActive   TrackingState = "active"
	TrackingError    TrackingState = "error"
)

// TrainingStatus mirrors the anomaly model training progress.
type TrainingStatus struct {
	IsTraining      bool   `json:"is_training"`
	IsTrained       bool   `json:"is_trained"`
	TrainingSamples int    `json:"training_samples"`
	Message         string `json:"message,omitempty"`
}
