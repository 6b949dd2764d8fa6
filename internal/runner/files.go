package runner

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/anotherai-dev/anotherai/internal/provider"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

const (
	fileDownloadRetries     = 2
	fileDownloadConcurrency = 4
)

// sanitizeFiles normalizes every attachment in place before planning: data:
// URIs fold into inline bytes so capability checks and the download plan see
// the real shape. Invalid files are aggregated like failed downloads.
func sanitizeFiles(messages []models.Message) error {
	var invalid []error
	for i := range messages {
		for f := range messages[i].Files() {
			if err := f.Sanitize(); err != nil {
				invalid = append(invalid, err)
			}
		}
	}
	return errors.Join(invalid...)
}

// planFiles decides, per provider capability, which files must be
// materialized to bytes before the request is built. Files already carrying
// data are left alone; URL files spill into the download set once the
// provider's URL budget is spent.
func planFiles(messages []models.Message, p provider.Provider, model string) []*models.File {
	var toDownload []*models.File
	links := 0
	maxLinks := p.MaxNumberOfFileURLs()
	for i := range messages {
		for f := range messages[i].Files() {
			if f.HasData() {
				continue
			}
			if p.RequiresDownloadingFile(f, model) || f.URL == "" || links >= maxLinks {
				toDownload = append(toDownload, f)
				continue
			}
			links++
		}
	}
	return toDownload
}

// downloadFiles fetches every planned file concurrently, mutating the files
// in place. Invalid-file failures are aggregated so the caller sees every
// bad attachment at once; transport failures cancel the remaining fetches.
func downloadFiles(ctx context.Context, client *http.Client, files []*models.File) error {
	if len(files) == 0 {
		return nil
	}
	var mu sync.Mutex
	var invalid []error

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fileDownloadConcurrency)
	for _, f := range files {
		g.Go(func() error {
			err := f.Download(ctx, client, fileDownloadRetries)
			if err == nil {
				return nil
			}
			var badFile *models.InvalidFileError
			if errors.As(err, &badFile) {
				mu.Lock()
				invalid = append(invalid, err)
				mu.Unlock()
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(invalid...)
}
