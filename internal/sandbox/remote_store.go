package sandbox

import (
	"context"
	"fmt"
	"path"
	"strings"

	agenterrors "github.com/bio-xyz/bio-data-analysis/internal/errors"
)

// RemoteStoreConfig carries the S3-compatible object store settings used by
// the in-sandbox transfer scripts. Credentials never leave the process except
// as environment variables of the sandboxed interpreter.
type RemoteStoreConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
}

// remoteStore is mixed into the HTTP gateway; transfers run as boto3 scripts
// inside the sandbox so object bytes never pass through this process.
type remoteStore struct {
	cfg RemoteStoreConfig
}

// ConfigureRemoteStore enables the remote-store operations on a gateway
// returned by NewHTTPGateway.
func ConfigureRemoteStore(gw Gateway, cfg RemoteStoreConfig) {
	if hg, ok := gw.(*httpGateway); ok {
		hg.remote = &remoteStore{cfg: cfg}
	}
}

func (g *httpGateway) UploadToRemoteStore(ctx context.Context, sandboxID, source, key string, deleteSource bool) error {
	if g.remote == nil {
		return &agenterrors.SandboxError{Op: "remote upload", SandboxID: sandboxID, Err: fmt.Errorf("remote store not configured")}
	}
	script := g.remote.uploadScript(source, key, deleteSource)
	result, err := g.ExecuteCode(ctx, sandboxID, script)
	if err != nil {
		return err
	}
	if result.Failed() {
		return &agenterrors.SandboxError{Op: "remote upload " + key, SandboxID: sandboxID,
			Err: fmt.Errorf("%s", result.Error.String())}
	}
	return nil
}

func (g *httpGateway) DownloadFromRemoteStore(ctx context.Context, sandboxID string, keys []string, target string) ([]string, error) {
	if g.remote == nil {
		return nil, &agenterrors.SandboxError{Op: "remote download", SandboxID: sandboxID, Err: fmt.Errorf("remote store not configured")}
	}
	paths := make([]string, 0, len(keys))
	for _, key := range keys {
		local := path.Join(target, path.Base(key))
		script := g.remote.downloadScript(key, local)
		result, err := g.ExecuteCode(ctx, sandboxID, script)
		if err != nil {
			return nil, err
		}
		if result.Failed() {
			return nil, &agenterrors.SandboxError{Op: "remote download " + key, SandboxID: sandboxID,
				Err: fmt.Errorf("%s", result.Error.String())}
		}
		paths = append(paths, local)
	}
	return paths, nil
}

func (r *remoteStore) uploadScript(source, key string, deleteSource bool) string {
	var b strings.Builder
	r.writePreamble(&b)
	fmt.Fprintf(&b, "src = %s\n", pyString(source))
	fmt.Fprintf(&b, "key = %s\n", pyString(key))
	b.WriteString(`if os.path.isdir(src):
    for root, _, files in os.walk(src):
        for name in files:
            local = os.path.join(root, name)
            rel = os.path.relpath(local, src)
            s3.upload_file(local, bucket, os.path.join(key, rel).replace(os.sep, "/"))
else:
    s3.upload_file(src, bucket, key)
`)
	if deleteSource {
		b.WriteString(`if os.path.isdir(src):
    shutil.rmtree(src)
else:
    os.remove(src)
`)
	}
	return b.String()
}

func (r *remoteStore) downloadScript(key, local string) string {
	var b strings.Builder
	r.writePreamble(&b)
	fmt.Fprintf(&b, "key = %s\n", pyString(key))
	fmt.Fprintf(&b, "dst = %s\n", pyString(local))
	b.WriteString(`os.makedirs(os.path.dirname(dst), exist_ok=True)
s3.download_file(bucket, key, dst)
`)
	return b.String()
}

func (r *remoteStore) writePreamble(b *strings.Builder) {
	b.WriteString("import os, shutil\nimport boto3\n")
	fmt.Fprintf(b, "s3 = boto3.client(\"s3\", aws_access_key_id=%s, aws_secret_access_key=%s",
		pyString(r.cfg.AccessKey), pyString(r.cfg.SecretKey))
	if r.cfg.Endpoint != "" {
		fmt.Fprintf(b, ", endpoint_url=%s", pyString(r.cfg.Endpoint))
	}
	b.WriteString(")\n")
	fmt.Fprintf(b, "bucket = %s\n", pyString(r.cfg.Bucket))
}

// pyString renders s as a safe Python string literal.
func pyString(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + replacer.Replace(s) + `"`
}
