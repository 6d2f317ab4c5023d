package catalog

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestGitBlobHash(t *testing.T) {
	tests := []struct {
		data string
		want string
	}{
		{"", "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391"},
		{"hello\n", "ce013625030ba8dba906f756967f9e9ca394464a"},
	}
	for _, tt := range tests {
		if got := gitBlobHash([]byte(tt.data)); got != tt.want {
			t.Errorf("gitBlobHash(%q) = %s, want %s", tt.data, got, tt.want)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestDirSource_Load(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "models", "light.yml"), "model:\n  name: LightModel\n")
	writeFile(t, filepath.Join(root, "models", "plant", "growth.yaml"), "model:\n  name: GrowthModel\n")
	writeFile(t, filepath.Join(root, "models", "README.md"), "# models")
	writeFile(t, filepath.Join(root, "models", ".git", "config.yml"), "ignored: true\n")
	writeFile(t, filepath.Join(root, "other.yml"), "model:\n  name: Outside\n")

	docs, err := NewDirSource(root).Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d: %+v", len(docs), docs)
	}
	if docs[0].Path != "models/light.yml" || docs[1].Path != "models/plant/growth.yaml" {
		t.Errorf("unexpected paths: %s, %s", docs[0].Path, docs[1].Path)
	}
	if docs[0].Hash != gitBlobHash([]byte("model:\n  name: LightModel\n")) {
		t.Errorf("unexpected hash %s", docs[0].Hash)
	}

	t.Run("missing models directory", func(t *testing.T) {
		if _, err := NewDirSource(t.TempDir()).Load(context.Background()); err == nil {
			t.Error("expected error")
		}
	})
}

type fakeObjects struct {
	objects map[string]string
	etags   map[string]string
	gets    int
}

func (f *fakeObjects) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, s3types.Object{
				Key:  aws.String(key),
				ETag: aws.String(`"` + f.etags[key] + `"`),
			})
		}
	}
	return out, nil
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gets++
	body := f.objects[aws.ToString(in.Key)]
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestS3Source_Load(t *testing.T) {
	fake := &fakeObjects{
		objects: map[string]string{
			"cis-specs/models/light.yml":  "model:\n  name: LightModel\n",
			"cis-specs/models/notes.txt":  "notes",
			"cis-specs/other/outside.yml": "model:\n  name: Outside\n",
		},
		etags: map[string]string{
			"cis-specs/models/light.yml": "abc123",
		},
	}

	docs, err := newS3Source(fake, "bucket", "/cis-specs/").Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0].Path != "models/light.yml" {
		t.Errorf("unexpected path %s", docs[0].Path)
	}
	if docs[0].Hash != "abc123" {
		t.Errorf("expected unquoted etag, got %s", docs[0].Hash)
	}
	if string(docs[0].Data) != "model:\n  name: LightModel\n" {
		t.Errorf("unexpected data %q", docs[0].Data)
	}
	if fake.gets != 1 {
		t.Errorf("expected only model files downloaded, got %d gets", fake.gets)
	}
}
