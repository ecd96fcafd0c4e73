// Command autoassign triggers the monthly auto-assignment run on the pipeline
// service. It is meant to be run by a scheduler near the end of each month.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"devotionai/internal/servicetoken"
	"devotionai/internal/util"
)

type options struct {
	pipelineURL string
	month       string
	modes       string
	language    string
	keyPath     string
	keyID       string
	issuer      string
	audience    string
	timeout     time.Duration
}

func main() {
	opts := options{}
	flag.StringVar(&opts.pipelineURL, "pipeline-url", envOr("PIPELINE_URL", "http://localhost:8080"), "pipeline service base url")
	flag.StringVar(&opts.month, "month", "", "month to assign (YYYY-MM); defaults to next month")
	flag.StringVar(&opts.modes, "modes", envOr("AUTOASSIGN_MODES", "bible,positivity"), "comma separated modes")
	flag.StringVar(&opts.language, "language", os.Getenv("AUTOASSIGN_LANGUAGE"), "restrict to one language")
	flag.StringVar(&opts.keyPath, "key", os.Getenv("AUTOASSIGN_JWT_PRIVATE_KEY_PATH"), "RS256 private key for service tokens")
	flag.StringVar(&opts.keyID, "kid", envOr("AUTOASSIGN_JWT_KEY_ID", servicetoken.DefaultKeyID), "service token key id")
	flag.StringVar(&opts.issuer, "issuer", envOr("AUTOASSIGN_JWT_ISSUER", "autoassign-job"), "service token issuer")
	flag.StringVar(&opts.audience, "audience", envOr("AUTOASSIGN_JWT_AUDIENCE", "pipeline"), "service token audience")
	flag.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall timeout")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "log level")
	flag.Parse()

	util.InitLogger("autoassign", *logLevel)
	if opts.month == "" {
		opts.month = time.Now().UTC().AddDate(0, 1, 0).Format("2006-01")
	}
	if err := run(opts); err != nil {
		log.Fatalf("autoassign: %v", err)
	}
}

type assignResult struct {
	Assigned int `json:"assigned"`
	Skipped  int `json:"skipped"`
}

func run(opts options) error {
	if strings.TrimSpace(opts.keyPath) == "" {
		return fmt.Errorf("service token private key is required (-key or AUTOASSIGN_JWT_PRIVATE_KEY_PATH)")
	}
	signer, err := servicetoken.NewSignerWithOptions(servicetoken.SignerOptions{
		PrivateKeyPath: opts.keyPath,
		KeyID:          opts.keyID,
		Issuer:         opts.issuer,
	})
	if err != nil {
		return err
	}
	client := &http.Client{
		Timeout:   30 * time.Second,
		Transport: signer.Transport(http.DefaultTransport, opts.audience, servicetoken.ScopeAssignmentsRun),
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	endpoint := strings.TrimRight(opts.pipelineURL, "/") + "/assignments"
	for _, mode := range strings.Split(opts.modes, ",") {
		mode = strings.TrimSpace(mode)
		if mode == "" {
			continue
		}
		res, err := autoAssign(ctx, client, endpoint, opts.month, mode, opts.language)
		if err != nil {
			return fmt.Errorf("%s: %w", mode, err)
		}
		slog.Info("auto_assign_done", "month", opts.month, "mode", mode, "assigned", res.Assigned, "skipped", res.Skipped)
	}
	return nil
}

func autoAssign(ctx context.Context, client *http.Client, endpoint, month, mode, language string) (assignResult, error) {
	body, err := json.Marshal(map[string]string{
		"action":   "auto_assign",
		"month":    month,
		"mode":     mode,
		"language": language,
	})
	if err != nil {
		return assignResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return assignResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return assignResult{}, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return assignResult{}, fmt.Errorf("pipeline returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out assignResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return assignResult{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
