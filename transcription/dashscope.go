package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nijaru/scriptparser/config"
	"github.com/nijaru/scriptparser/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	dashScopeSubmitPath = "api/v1/services/audio/asr/transcription"
	dashScopeTaskPath   = "api/v1/tasks"

	taskPending   = "PENDING"
	taskRunning   = "RUNNING"
	taskSucceeded = "SUCCEEDED"
	taskFailed    = "FAILED"
	taskCanceled  = "CANCELED"
	taskUnknown   = "UNKNOWN"
)

// DashScope transcribes through the asynchronous recorded-audio API.
type DashScope struct {
	cfg  config.DashScopeConfig
	opts Options
}

func NewDashScope(cfg config.DashScopeConfig, opts Options) (*DashScope, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("dashscope: api key required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("dashscope: base url required")
	}
	if cfg.Model == "" {
		cfg.Model = "paraformer-v2"
	}
	return &DashScope{cfg: cfg, opts: opts.withDefaults()}, nil
}

type dashScopeSubmitRequest struct {
	Model string `json:"model"`
	Input struct {
		FileURLs []string `json:"file_urls"`
	} `json:"input"`
	Parameters struct {
		LanguageHints []string `json:"language_hints,omitempty"`
		VocabularyID  string   `json:"vocabulary_id,omitempty"`
	} `json:"parameters"`
}

type dashScopeTaskResponse struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Output    struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		Code       string `json:"code"`
		Message    string `json:"message"`
		Results    []struct {
			FileURL          string `json:"file_url"`
			TranscriptionURL string `json:"transcription_url"`
			SubtaskStatus    string `json:"subtask_status"`
			Code             string `json:"code"`
			Message          string `json:"message"`
		} `json:"results"`
	} `json:"output"`
}

type dashScopeTranscript struct {
	Transcripts []struct {
		ChannelID int    `json:"channel_id"`
		Text      string `json:"text"`
	} `json:"transcripts"`
}

func (d *DashScope) Transcribe(ctx context.Context, mediaURL string, mode models.AnalysisMode) (string, error) {
	start := time.Now()
	taskID, err := d.submit(ctx, mediaURL, vocabularyFor(mode, d.cfg.TechVocabularyID))
	if err != nil {
		return "", errors.Wrap(err, "dashscope: submit task")
	}
	log := d.opts.Logger.WithFields(logrus.Fields{"backend": "dashscope", "task_id": taskID})
	log.Info("Transcription task submitted")

	var task *dashScopeTaskResponse
	err = poll(ctx, d.opts, func(ctx context.Context) error {
		resp, err := d.fetchTask(ctx, taskID)
		if err != nil {
			return err
		}
		switch resp.Output.TaskStatus {
		case taskSucceeded:
			task = resp
			return nil
		case taskFailed, taskCanceled, taskUnknown:
			return errors.Errorf("task %s ended with status %s: %s %s",
				taskID, resp.Output.TaskStatus, resp.Output.Code, resp.Output.Message)
		default:
			return errPending
		}
	})
	if err != nil {
		return "", errors.Wrap(err, "dashscope")
	}

	var parts []string
	for _, result := range task.Output.Results {
		if result.SubtaskStatus != "" && result.SubtaskStatus != taskSucceeded {
			return "", errors.Errorf("dashscope: subtask for %s ended with status %s: %s",
				result.FileURL, result.SubtaskStatus, result.Message)
		}
		if result.TranscriptionURL == "" {
			continue
		}
		text, err := d.fetchTranscript(ctx, result.TranscriptionURL)
		if err != nil {
			return "", errors.Wrap(err, "dashscope: fetch transcript")
		}
		if text != "" {
			parts = append(parts, text)
		}
	}

	text := strings.TrimSpace(strings.Join(parts, "\n"))
	if text == "" {
		return "", errors.New("dashscope: empty transcript")
	}
	log.WithField("duration", time.Since(start)).Info("Transcription task finished")
	return text, nil
}

func (d *DashScope) submit(ctx context.Context, mediaURL, vocabularyID string) (string, error) {
	endpoint, err := url.JoinPath(d.cfg.BaseURL, dashScopeSubmitPath)
	if err != nil {
		return "", errors.Wrap(err, "build url")
	}

	var payload dashScopeSubmitRequest
	payload.Model = d.cfg.Model
	payload.Input.FileURLs = []string{mediaURL}
	payload.Parameters.LanguageHints = d.cfg.LanguageHints
	payload.Parameters.VocabularyID = vocabularyID
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "encode body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-DashScope-Async", "enable")

	var resp dashScopeTaskResponse
	if err := d.do(req, &resp); err != nil {
		return "", err
	}
	if resp.Output.TaskID == "" {
		return "", errors.Errorf("no task id in response (%s %s)", resp.Code, resp.Message)
	}
	return resp.Output.TaskID, nil
}

func (d *DashScope) fetchTask(ctx context.Context, taskID string) (*dashScopeTaskResponse, error) {
	endpoint, err := url.JoinPath(d.cfg.BaseURL, dashScopeTaskPath, taskID)
	if err != nil {
		return nil, errors.Wrap(err, "build url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	var resp dashScopeTaskResponse
	if err := d.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (d *DashScope) fetchTranscript(ctx context.Context, transcriptURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, transcriptURL, nil)
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	resp, err := d.opts.HTTPClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.Errorf("unexpected status %d", resp.StatusCode)
	}

	var transcript dashScopeTranscript
	if err := json.NewDecoder(resp.Body).Decode(&transcript); err != nil {
		return "", errors.Wrap(err, "decode transcript")
	}
	var texts []string
	for _, t := range transcript.Transcripts {
		if s := strings.TrimSpace(t.Text); s != "" {
			texts = append(texts, s)
		}
	}
	return strings.Join(texts, "\n"), nil
}

// do sends an authenticated request and decodes the task response.
func (d *DashScope) do(req *http.Request, out *dashScopeTaskResponse) error {
	req.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	resp, err := d.opts.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if err := json.Unmarshal(body, out); err != nil && resp.StatusCode < 300 {
		return errors.Wrap(err, "decode response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("http %d: %s %s", resp.StatusCode, out.Code, out.Message)
	}
	return nil
}
