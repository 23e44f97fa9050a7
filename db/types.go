package db

// UploadRecord is the audit row written when an upload starts.
type UploadRecord struct {
	UploadKey  string
	ClientKey  string
	AlbumId    string
	SourceKind string
	SourceName string
	Title      string
	MimeType   string
	Md5Hash    string
	RangeStart int64
	RangeEnd   int64
	TotalSize  int64
}

type UploadOutcome struct {
	StatusCode  int
	Transferred int64
	Committed   int64
	Complete    bool
}
