package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nijaru/scriptparser/config"
	"github.com/nijaru/scriptparser/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	fileTransVersion    = "2018-08-17"
	fileTransTaskFormat = "4.0"

	statusSuccess  = 21050000
	statusRunning  = 21050001
	statusQueueing = 21050002
)

// FileTrans transcribes through the recorded-file recognition RPC API.
type FileTrans struct {
	cfg      config.FileTransConfig
	endpoint string
	opts     Options
	now      func() time.Time
}

func NewFileTrans(cfg config.FileTransConfig, opts Options) (*FileTrans, error) {
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, errors.New("filetrans: access key id and secret required")
	}
	if cfg.AppKey == "" {
		return nil, errors.New("filetrans: appkey required")
	}
	if cfg.Region == "" {
		cfg.Region = "cn-shanghai"
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://filetrans.%s.aliyuncs.com", cfg.Region)
	}
	return &FileTrans{
		cfg:      cfg,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		opts:     opts.withDefaults(),
		now:      time.Now,
	}, nil
}

type fileTransTask struct {
	AppKey                         string `json:"appkey"`
	FileLink                       string `json:"file_link"`
	Version                        string `json:"version"`
	EnableWords                    bool   `json:"enable_words"`
	EnableSampleRateAdaptive       bool   `json:"enable_sample_rate_adaptive"`
	EnableInverseTextNormalization bool   `json:"enable_inverse_text_normalization"`
	VocabularyID                   string `json:"vocabulary_id,omitempty"`
}

type fileTransResponse struct {
	RequestID  string `json:"RequestId"`
	TaskID     string `json:"TaskId"`
	StatusCode int    `json:"StatusCode"`
	StatusText string `json:"StatusText"`
	Code       string `json:"Code"`
	Message    string `json:"Message"`
	Result     *struct {
		Sentences []Sentence `json:"Sentences"`
	} `json:"Result"`
}

func (f *FileTrans) Transcribe(ctx context.Context, mediaURL string, mode models.AnalysisMode) (string, error) {
	start := time.Now()
	vocabularyID := vocabularyFor(mode, f.cfg.TechVocabularyID)
	if mode == models.ModeTech && vocabularyID == "" {
		f.opts.Logger.Warn("Tech mode requested but no tech hot-word vocabulary is configured")
	}
	taskID, err := f.submit(ctx, mediaURL, vocabularyID)
	if err != nil {
		return "", errors.Wrap(err, "filetrans: submit task")
	}
	log := f.opts.Logger.WithFields(logrus.Fields{"backend": "filetrans", "task_id": taskID})
	log.Info("Transcription task submitted")

	var result *fileTransResponse
	err = poll(ctx, f.opts, func(ctx context.Context) error {
		resp, err := f.call(ctx, http.MethodGet, "GetTaskResult", map[string]string{"TaskId": taskID})
		if err != nil {
			return err
		}
		switch resp.StatusCode {
		case statusSuccess:
			result = resp
			return nil
		case statusRunning, statusQueueing:
			return errPending
		default:
			return errors.Errorf("task %s failed: %d %s", taskID, resp.StatusCode, resp.StatusText)
		}
	})
	if err != nil {
		return "", errors.Wrap(err, "filetrans")
	}

	if result.Result == nil || len(result.Result.Sentences) == 0 {
		return "", errors.New("filetrans: empty transcript")
	}
	text := FormatParagraphs(result.Result.Sentences)
	if text == "" {
		return "", errors.New("filetrans: empty transcript")
	}
	log.WithFields(logrus.Fields{
		"duration":  time.Since(start),
		"sentences": len(result.Result.Sentences),
	}).Info("Transcription task finished")
	return text, nil
}

func (f *FileTrans) submit(ctx context.Context, mediaURL, vocabularyID string) (string, error) {
	task, err := json.Marshal(fileTransTask{
		AppKey:                         f.cfg.AppKey,
		FileLink:                       mediaURL,
		Version:                        fileTransTaskFormat,
		EnableWords:                    false,
		EnableSampleRateAdaptive:       true,
		EnableInverseTextNormalization: true,
		VocabularyID:                   vocabularyID,
	})
	if err != nil {
		return "", errors.Wrap(err, "encode task")
	}

	resp, err := f.call(ctx, http.MethodPost, "SubmitTask", map[string]string{"Task": string(task)})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != statusSuccess || resp.TaskID == "" {
		return "", errors.Errorf("submit rejected: %d %s", resp.StatusCode, resp.StatusText)
	}
	return resp.TaskID, nil
}

// call signs and sends one RPC action. POST actions carry their parameters as
// a form body.
func (f *FileTrans) call(ctx context.Context, method, action string, extra map[string]string) (*fileTransResponse, error) {
	params := map[string]string{
		"AccessKeyId":      f.cfg.AccessKeyID,
		"Action":           action,
		"Format":           "JSON",
		"RegionId":         f.cfg.Region,
		"SignatureMethod":  "HMAC-SHA1",
		"SignatureNonce":   uuid.NewString(),
		"SignatureVersion": "1.0",
		"Timestamp":        f.now().UTC().Format("2006-01-02T15:04:05Z"),
		"Version":          fileTransVersion,
	}
	for k, v := range extra {
		params[k] = v
	}
	signature := signRPC(method, params, f.cfg.AccessKeySecret)

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("Signature", signature)

	var (
		req *http.Request
		err error
	)
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, f.endpoint+"/", strings.NewReader(values.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, f.endpoint+"/?"+values.Encode(), nil)
	}
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}

	resp, err := f.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	var out fileTransResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrapf(err, "decode %s response (http %d)", action, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("%s: http %d: %s %s", action, resp.StatusCode, out.Code, out.Message)
	}
	return &out, nil
}
