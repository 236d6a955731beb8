package ingest

import (
	"archive/zip"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"

	rverrors "git.home.luguber.info/inful/reviewd/internal/errors"
	"git.home.luguber.info/inful/reviewd/internal/logfields"
	"git.home.luguber.info/inful/reviewd/internal/model"
	"git.home.luguber.info/inful/reviewd/internal/observability"
)

// allowedCloneHosts is the closed set of hosts remote submissions may point
// at. Subdomains of an allowed host are accepted.
var allowedCloneHosts = []string{
	"github.com",
	"gitlab.com",
	"bitbucket.org",
	"dev.azure.com",
}

// RemoteSubmission is a repository URL to clone and analyze.
type RemoteSubmission struct {
	OwnerID     string
	Name        string
	Description string
	URL         string
}

// SubmitRemote shallow-clones an allowlisted HTTPS repository, packs the
// checkout into an archive and runs it through the archive ingest path, so
// both submission kinds share blob layout and file records.
func (s *Service) SubmitRemote(ctx context.Context, sub RemoteSubmission) (*model.Project, error) {
	if err := validateSubmissionName(sub.Name); err != nil {
		return nil, err
	}
	if err := validateCloneURL(sub.URL); err != nil {
		return nil, err
	}

	cloneDir, err := os.MkdirTemp("", "reviewd-clone-*")
	if err != nil {
		return nil, rverrors.WrapInternal(err, "failed to create clone dir")
	}
	defer func() { _ = os.RemoveAll(cloneDir) }()

	observability.InfoContext(ctx, "Cloning remote repository",
		logfields.OwnerID(sub.OwnerID), logfields.URL(sub.URL))
	_, err = git.PlainCloneContext(ctx, cloneDir, false, &git.CloneOptions{
		URL:          sub.URL,
		Depth:        1,
		SingleBranch: true,
	})
	if err != nil {
		return nil, rverrors.WrapTransient(err, "failed to clone repository")
	}

	spool, size, err := packCheckout(cloneDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	return s.ingestSpool(ctx, sub.OwnerID, sub.Name, sub.Description, sub.URL, spool, size)
}

// validateCloneURL enforces HTTPS and the host allowlist.
func validateCloneURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return rverrors.Validation("repository URL is not valid").WithContext("url", raw)
	}
	if u.Scheme != "https" {
		return rverrors.Security("repository URL must use https").WithContext("url", raw)
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range allowedCloneHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return rverrors.Security("repository host is not allowed").WithContext("host", host)
}

// packCheckout zips the checkout, dropping the .git directory, into a spool
// file ready for the shared ingest path.
func packCheckout(cloneDir string) (*os.File, int64, error) {
	spool, err := os.CreateTemp("", "reviewd-remote-*.zip")
	if err != nil {
		return nil, 0, rverrors.WrapInternal(err, "failed to create archive spool")
	}

	zw := zip.NewWriter(spool)
	walkErr := filepath.WalkDir(cloneDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(cloneDir, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if walkErr != nil {
		_ = zw.Close()
		_ = spool.Close()
		_ = os.Remove(spool.Name())
		return nil, 0, rverrors.WrapInternal(walkErr, "failed to pack checkout")
	}
	if err := zw.Close(); err != nil {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
		return nil, 0, rverrors.WrapInternal(err, "failed to finish archive")
	}

	size, err := spool.Seek(0, io.SeekEnd)
	if err != nil {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
		return nil, 0, rverrors.WrapInternal(err, "failed to size archive")
	}
	return spool, size, nil
}
