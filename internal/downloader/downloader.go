package downloader

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// Job represents one artifact to fetch. SHA256, when set, is the hex
// digest the downloaded file must match.
type Job struct {
	Name     string
	URL      string
	DestPath string
	SHA256   string
}

// Result represents a download result.
type Result struct {
	Job   Job
	Error error
}

// Downloader handles parallel HTTP downloads with digest verification.
type Downloader struct {
	workers  int
	cacheDir string
	client   *http.Client
	progress bool
}

// NewDownloader creates a new downloader with the specified number of workers.
func NewDownloader(workers int, cacheDir string) *Downloader {
	return &Downloader{
		workers:  workers,
		cacheDir: cacheDir,
		client:   &http.Client{},
		progress: true,
	}
}

// SetProgress toggles the terminal progress bar.
func (d *Downloader) SetProgress(enabled bool) {
	d.progress = enabled
}

// Download downloads multiple files in parallel and verifies each
// against its expected sha256.
func (d *Downloader) Download(jobs []Job) []Result {
	log := zap.L().Sugar()

	if err := os.MkdirAll(d.cacheDir, 0755); err != nil {
		results := make([]Result, len(jobs))
		for i, job := range jobs {
			results[i] = Result{Job: job, Error: err}
		}
		return results
	}

	var bar *progressbar.ProgressBar
	if d.progress {
		bar = progressbar.NewOptions(len(jobs),
			progressbar.OptionSetDescription("downloading"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
	}

	jobChan := make(chan Job, len(jobs))
	resultChan := make(chan Result, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobChan {
				if bar != nil {
					bar.Describe(fmt.Sprintf("downloading %s", filepath.Base(job.DestPath)))
				}
				err := d.downloadOne(job)
				if err != nil {
					log.Errorf("downloading %s failed: %v", job.URL, err)
				}
				if bar != nil {
					_ = bar.Add(1)
				}
				resultChan <- Result{Job: job, Error: err}
			}
		}()
	}

	for _, job := range jobs {
		jobChan <- job
	}
	close(jobChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]Result, 0, len(jobs))
	for result := range resultChan {
		results = append(results, result)
	}

	return results
}

func (d *Downloader) downloadOne(job Job) error {
	// A cached file is reused only if it still matches its digest.
	if _, err := os.Stat(job.DestPath); err == nil {
		if err := verifyDigest(job.DestPath, job.SHA256); err == nil {
			return nil
		}
		zap.L().Sugar().Warnf("cached %s failed verification, refetching", job.DestPath)
		os.Remove(job.DestPath)
	}

	if err := os.MkdirAll(filepath.Dir(job.DestPath), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	resp, err := d.client.Get(job.URL)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", job.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: HTTP %d", job.URL, resp.StatusCode)
	}

	// Write to temp file first, then rename.
	tmpPath := job.DestPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}

	hasher := sha256.New()
	_, err = io.Copy(io.MultiWriter(out, hasher), resp.Body)
	out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing file: %w", err)
	}

	if job.SHA256 != "" {
		got := hex.EncodeToString(hasher.Sum(nil))
		if got != job.SHA256 {
			os.Remove(tmpPath)
			return fmt.Errorf("sha256 mismatch for %s: got %s, want %s", job.URL, got, job.SHA256)
		}
	}

	if err := os.Rename(tmpPath, job.DestPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming file: %w", err)
	}

	return nil
}

func verifyDigest(path, wantSHA256 string) error {
	if wantSHA256 == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return err
	}
	got := hex.EncodeToString(hasher.Sum(nil))
	if got != wantSHA256 {
		return fmt.Errorf("sha256 mismatch: got %s, want %s", got, wantSHA256)
	}
	return nil
}

// CacheDir returns the cache directory.
func (d *Downloader) CacheDir() string {
	return d.cacheDir
}

// CachePath returns the cache path for a release artifact.
func (d *Downloader) CachePath(filename string) string {
	return filepath.Join(d.cacheDir, "artifacts", filename)
}
