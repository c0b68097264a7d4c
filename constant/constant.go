package constant

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusReady      JobStatus = "READY"
	JobStatusFailed     JobStatus = "FAILED"
)

func (s JobStatus) String() string {
	return string(s)
}

// Wire returns the lowercase status carried by update events.
func (s JobStatus) Wire() WireStatus {
	switch s {
	case JobStatusProcessing:
		return WireStatusProcessing
	case JobStatusReady:
		return WireStatusReady
	case JobStatusFailed:
		return WireStatusFailed
	}
	return WireStatus("")
}

type WireStatus string

const (
	WireStatusProcessing WireStatus = "processing"
	WireStatusReady      WireStatus = "ready"
	WireStatusFailed     WireStatus = "failed"
)

type DerivativeKind string

const (
	DerivativeKindPreview   DerivativeKind = "preview"
	DerivativeKindThumbnail DerivativeKind = "thumbnail"
)

func (k DerivativeKind) String() string {
	return string(k)
}

const (
	EventTypeVideoUploaded        = "VideoUploaded"
	EventTypePreviewUpdateEvent   = "PreviewUpdateEvent"
	EventTypeThumbnailUpdateEvent = "ThumbnailUpdateEvent"

	EventVersion = "1.0"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

const (
	BrokerRabbitMQ = "rabbitmq"
	BrokerKafka    = "kafka"
	BrokerMemory   = "memory"

	DatabasePostgres = "postgres"
	DatabaseMemory   = "memory"

	StorageMinIO  = "minio"
	StorageS3     = "s3"
	StorageMemory = "memory"
)
