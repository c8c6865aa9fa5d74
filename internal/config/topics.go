package config

const (
	// TopicIngestUpload is the NSQ topic carrying uploaded PDFs awaiting ingestion.
	TopicIngestUpload = "ingest.upload"
)

// Topics lists every topic pre-created at bootstrap.
var Topics = []string{TopicIngestUpload}
