package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/Billy-Davies-2/ladder-bot/internal/config"
	"github.com/Billy-Davies-2/ladder-bot/internal/models"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func snapshot() *models.Snapshot {
	return &models.Snapshot{
		Tournament: models.Tournament{
			ID:      "1234",
			Channel: "guild/general",
			Mode:    models.ModeLadder1v1,
			Status:  models.TournamentDeleted,
		},
		Players: []models.PlayerEntry{{ID: "alice", Position: 1, Status: models.PlayerActive}},
		NextSeq: 4,
	}
}

func TestArchive(t *testing.T) {
	fake := &fakePutter{}
	a := newS3Archiver(fake, "ladders")

	if err := a.Archive(context.Background(), snapshot()); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if len(fake.inputs) != 1 {
		t.Fatalf("expected one upload, got %d", len(fake.inputs))
	}

	in := fake.inputs[0]
	if aws.ToString(in.Bucket) != "ladders" {
		t.Errorf("Bucket = %q", aws.ToString(in.Bucket))
	}
	if want := "tournaments/guild_general/Ladder1v1/1234.json"; aws.ToString(in.Key) != want {
		t.Errorf("Key = %q, want %q", aws.ToString(in.Key), want)
	}
	if aws.ToString(in.ContentType) != "application/json" {
		t.Errorf("ContentType = %q", aws.ToString(in.ContentType))
	}

	var got models.Snapshot
	if err := json.Unmarshal(fake.bodies[0], &got); err != nil {
		t.Fatalf("uploaded body is not a snapshot: %v", err)
	}
	if got.NextSeq != 4 || len(got.Players) != 1 {
		t.Errorf("unexpected uploaded snapshot %+v", got)
	}
}

func TestArchiveUploadError(t *testing.T) {
	a := newS3Archiver(&fakePutter{err: errors.New("access denied")}, "ladders")
	if err := a.Archive(context.Background(), snapshot()); err == nil {
		t.Fatal("expected upload error")
	}
}

func TestNewS3ArchiverRequiresBucket(t *testing.T) {
	if _, err := NewS3Archiver(context.Background(), appconfig.ArchiveConfig{Region: "auto"}); err == nil {
		t.Fatal("expected an error without a bucket")
	}
}

func TestNewS3ArchiverWithStaticCredentials(t *testing.T) {
	a, err := NewS3Archiver(context.Background(), appconfig.ArchiveConfig{
		Bucket:          "ladders",
		Endpoint:        "http://localhost:9000",
		Region:          "auto",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("NewS3Archiver: %v", err)
	}
	if a.bucket != "ladders" {
		t.Errorf("bucket = %q", a.bucket)
	}
}
