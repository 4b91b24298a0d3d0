package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	git "github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/veilgate/veilgate/internal/config"
)

// mirrorExportToObjectStore uploads an exported config document to an
// S3-compatible object storage bucket, grounded on the teacher's
// objectstore.go ObjectTokenStore.putObject. Opt-in and invoked only from
// ExportToFile, never from Bootstrap or any hot read path.
func mirrorExportToObjectStore(ctx context.Context, cfg *config.ObjectMirrorConfig, data []byte) error {
	if cfg == nil {
		return nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("store: object mirror: create client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("store: object mirror: check bucket: %w", err)
	}
	if !exists {
		if err = client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("store: object mirror: create bucket: %w", err)
		}
	}

	key := cfg.ObjectKey
	if key == "" {
		key = "config/config.yaml"
	}
	_, err = client.PutObject(ctx, cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/x-yaml",
	})
	if err != nil {
		return fmt.Errorf("store: object mirror: put object %s: %w", key, err)
	}
	return nil
}

// mirrorExportToGitHistory commits an exported config document into a local
// git working tree, grounded on the teacher's gitstore.go
// commitAndPushLocked (minus the remote push, since this mirror is a local
// audit history rather than a synchronized backend).
func mirrorExportToGitHistory(cfg *config.GitHistoryConfig, data []byte) error {
	if cfg == nil {
		return nil
	}
	repo, err := git.PlainOpen(cfg.RepoPath)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			if err = os.MkdirAll(cfg.RepoPath, 0o700); err != nil {
				return fmt.Errorf("store: git history: create repo dir: %w", err)
			}
			repo, err = git.PlainInit(cfg.RepoPath, false)
		}
		if err != nil {
			return fmt.Errorf("store: git history: open repo: %w", err)
		}
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("store: git history: worktree: %w", err)
	}

	fileName := cfg.FileName
	if fileName == "" {
		fileName = "config.yaml"
	}
	if err = os.WriteFile(filepath.Join(cfg.RepoPath, fileName), data, 0o600); err != nil {
		return fmt.Errorf("store: git history: write snapshot: %w", err)
	}
	if _, err = worktree.Add(fileName); err != nil {
		return fmt.Errorf("store: git history: add %s: %w", fileName, err)
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("store: git history: status: %w", err)
	}
	if status.IsClean() {
		return nil
	}

	signature := &object.Signature{Name: "veilgate", Email: "veilgate@localhost", When: time.Now()}
	_, err = worktree.Commit("export snapshot", &git.CommitOptions{Author: signature})
	if err != nil && !errors.Is(err, git.ErrEmptyCommit) {
		return fmt.Errorf("store: git history: commit: %w", err)
	}
	return nil
}
