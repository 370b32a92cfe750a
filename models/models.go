package models

// Platform names a video source recognised by the link resolver.
type Platform string

const (
	PlatformDouyin      Platform = "douyin"
	PlatformXiaohongshu Platform = "xiaohongshu"
)

// VideoDescriptor is the normalised result of link resolution. MediaURL is
// fetchable without authentication.
type VideoDescriptor struct {
	VideoID  string   `json:"video_id"`
	Platform Platform `json:"platform"`
	Title    string   `json:"title"`
	MediaURL string   `json:"media_url"`
}

// FileInfo describes an uploaded file once it has been stored remotely.
type FileInfo struct {
	OriginalName string `json:"original_name"`
	SizeBytes    int64  `json:"size_bytes"`
	RemoteURL    string `json:"remote_url,omitempty"`
}

// AnalysisMode picks the analysis prompt and the transcription vocabulary
// for one request.
type AnalysisMode string

const (
	ModeGeneral AnalysisMode = "general"
	ModeTech    AnalysisMode = "tech"
)

// StructuredAnalysis is the three-part breakdown of a transcript.
type StructuredAnalysis struct {
	Hook       string   `json:"hook"`
	Core       string   `json:"core"`
	CTA        string   `json:"cta"`
	Highlights []string `json:"highlights,omitempty"`
}

// Complete reports whether the required sections are all present.
func (a *StructuredAnalysis) Complete() bool {
	return a != nil && a.Hook != "" && a.Core != "" && a.CTA != ""
}

type SourceKind string

const (
	SourceVideo SourceKind = "video"
	SourceFile  SourceKind = "file"
)

type SourceInfo struct {
	Kind  SourceKind       `json:"type"`
	Video *VideoDescriptor `json:"video,omitempty"`
	File  *FileInfo        `json:"file,omitempty"`
}

type ResultData struct {
	Transcript string             `json:"transcript"`
	Analysis   StructuredAnalysis `json:"analysis"`
	SourceInfo SourceInfo         `json:"source_info"`
}

// WorkflowResult is the response envelope for every /parse request.
type WorkflowResult struct {
	Code           int         `json:"code"`
	Success        bool        `json:"success"`
	Data           *ResultData `json:"data"`
	Message        string      `json:"message"`
	ProcessingTime float64     `json:"processing_time"`
}

// ParseRequest is the JSON body accepted by POST /parse.
type ParseRequest struct {
	URL          string `json:"url"`
	AnalysisMode string `json:"analysis_mode,omitempty"`
}
