// Package s3disk implements remote.Disk on an S3-compatible bucket. The
// user credential is a JSON document naming the endpoint, bucket and keys,
// so each user can point the bot at their own MinIO or S3 storage.
package s3disk

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/Iskam31/YADISKTGBOT/internal/metrics"
	"github.com/Iskam31/YADISKTGBOT/internal/remote"
)

// Credential is the JSON shape a user supplies as their token.
type Credential struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	UseSSL    bool   `json:"use_ssl"`
}

const presignTTL = 15 * time.Minute

// Opener builds disks from credential JSON and caches them per credential
// digest, so repeated updates from one user reuse the same SDK client.
type Opener struct {
	mu    sync.Mutex
	disks map[string]*Disk
}

// NewOpener creates an empty opener.
func NewOpener() *Opener {
	return &Opener{disks: make(map[string]*Disk)}
}

// Open parses the credential and returns a bucket-bound disk.
func (o *Opener) Open(ctx context.Context, credential string) (remote.Disk, error) {
	key := credDigest(credential)

	o.mu.Lock()
	cached, ok := o.disks[key]
	o.mu.Unlock()
	if ok {
		return cached, nil
	}

	var cred Credential
	if err := json.Unmarshal([]byte(credential), &cred); err != nil {
		return nil, remote.Call(remote.OpOpen, fmt.Errorf("parse s3 credential: %w", err))
	}
	if cred.Bucket == "" || cred.AccessKey == "" || cred.SecretKey == "" {
		return nil, remote.Call(remote.OpOpen, fmt.Errorf("s3 credential missing bucket or keys"))
	}
	if cred.Region == "" {
		cred.Region = "us-east-1"
	}

	disk, err := newDisk(ctx, cred)
	if err != nil {
		return nil, remote.Call(remote.OpOpen, err)
	}

	o.mu.Lock()
	o.disks[key] = disk
	o.mu.Unlock()
	return disk, nil
}

func credDigest(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// Disk is one bucket seen through the remote.Disk interface.
type Disk struct {
	client   *s3.Client
	presign  *s3.PresignClient
	uploader *http.Client
	bucket   string
	endpoint string
	region   string
}

func newDisk(ctx context.Context, cred Credential) (*Disk, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cred.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cred.AccessKey, cred.SecretKey, ""),
		),
	}
	if cred.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cred.Endpoint,
					HostnameImmutable: true,
				}, nil
			},
		)
		opts = append(opts, config.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cred.Endpoint != ""
	})

	d := &Disk{
		client:   client,
		presign:  s3.NewPresignClient(client),
		uploader: &http.Client{},
		bucket:   cred.Bucket,
		endpoint: strings.TrimRight(cred.Endpoint, "/"),
		region:   cred.Region,
	}

	if err := d.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Disk) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := d.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(d.bucket),
	})
	if err == nil {
		return nil
	}
	if isAccessDenied(err) {
		metrics.RecordRemoteOp(remote.OpOpen, time.Since(start), false)
		return remote.ErrUnauthorized
	}
	_, createErr := d.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(d.bucket),
	})
	if createErr != nil {
		metrics.RecordRemoteOp(remote.OpOpen, time.Since(start), false)
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", d.bucket, createErr)
	}
	metrics.RecordRemoteOp(remote.OpOpen, time.Since(start), true)
	return nil
}

func isAccessDenied(err error) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.ErrorCode() {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return true
	}
	return false
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if isAccessDenied(err) {
		return remote.ErrUnauthorized
	}
	var nf *types.NotFound
	var nk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nk) {
		return remote.ErrNotFound
	}
	return err
}

// keyOf maps a slash-rooted app path to an object key.
func keyOf(path string) string {
	return strings.Trim(path, "/")
}

func pathOf(key string) string {
	return "/" + strings.Trim(key, "/")
}

func baseName(key string) string {
	key = strings.Trim(key, "/")
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// List walks the directory level under path and pages it locally: the
// object store has no offset parameter, so the whole level is collected
// and sliced. Folders come from common prefixes, files from objects; the
// store's lexical order is kept within each group.
func (d *Disk) List(ctx context.Context, path string, limit, offset int) (*remote.Listing, error) {
	start := time.Now()

	prefix := keyOf(path)
	if prefix != "" {
		prefix += "/"
	}

	var folders, files []remote.Entry
	p := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			metrics.RecordRemoteOp(remote.OpList, time.Since(start), false)
			return nil, remote.Call(remote.OpList, classify(err))
		}
		for _, cp := range page.CommonPrefixes {
			key := aws.ToString(cp.Prefix)
			folders = append(folders, remote.Entry{
				Name: baseName(key),
				Path: pathOf(key),
				Kind: remote.KindFolder,
			})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue // the folder's own marker object
			}
			files = append(files, remote.Entry{
				Name:      baseName(key),
				Path:      pathOf(key),
				Kind:      remote.KindFile,
				Size:      aws.ToInt64(obj.Size),
				PublicURL: d.publicURL(key),
			})
		}
	}
	metrics.RecordRemoteOp(remote.OpList, time.Since(start), true)

	all := append(folders, files...)
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	return &remote.Listing{
		Path:   pathOf(prefix),
		Items:  all[offset:end],
		Total:  total,
		Offset: offset,
		Limit:  limit,
	}, nil
}

// Stat heads the object, falling back to a prefix probe so folders without
// marker objects still resolve.
func (d *Disk) Stat(ctx context.Context, path string) (*remote.Entry, error) {
	start := time.Now()
	key := keyOf(path)

	head, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		metrics.RecordRemoteOp(remote.OpStat, time.Since(start), true)
		return &remote.Entry{
			Name:      baseName(key),
			Path:      pathOf(key),
			Kind:      remote.KindFile,
			Size:      aws.ToInt64(head.ContentLength),
			PublicURL: d.publicURL(key),
		}, nil
	}

	list, lerr := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(d.bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int32(1),
	})
	if lerr == nil && len(list.Contents) > 0 {
		metrics.RecordRemoteOp(remote.OpStat, time.Since(start), true)
		return &remote.Entry{
			Name: baseName(key),
			Path: pathOf(key),
			Kind: remote.KindFolder,
		}, nil
	}

	metrics.RecordRemoteOp(remote.OpStat, time.Since(start), false)
	return nil, remote.Call(remote.OpStat, classify(err))
}

// WriteTarget presigns a PUT for the object.
func (d *Disk) WriteTarget(ctx context.Context, path string, overwrite bool) (*remote.WriteTarget, error) {
	start := time.Now()
	key := keyOf(path)

	if !overwrite {
		_, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(d.bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			metrics.RecordRemoteOp(remote.OpWriteTarget, time.Since(start), false)
			return nil, remote.Call(remote.OpWriteTarget, fmt.Errorf("%s already exists", path))
		}
	}

	req, err := d.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignTTL))
	if err != nil {
		metrics.RecordRemoteOp(remote.OpWriteTarget, time.Since(start), false)
		return nil, remote.Call(remote.OpWriteTarget, classify(err))
	}
	metrics.RecordRemoteOp(remote.OpWriteTarget, time.Since(start), true)

	header := http.Header{}
	for k, vs := range req.SignedHeader {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	return &remote.WriteTarget{URL: req.URL, Method: req.Method, Header: header}, nil
}

// Write streams body to the presigned URL.
func (d *Disk) Write(ctx context.Context, target *remote.WriteTarget, body io.Reader, size int64) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, target.Method, target.URL, body)
	if err != nil {
		metrics.RecordRemoteOp(remote.OpWrite, time.Since(start), false)
		return remote.Call(remote.OpWrite, err)
	}
	req.ContentLength = size
	for k, vs := range target.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := d.uploader.Do(req)
	if err != nil {
		metrics.RecordRemoteOp(remote.OpWrite, time.Since(start), false)
		return remote.Call(remote.OpWrite, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		metrics.RecordRemoteOp(remote.OpWrite, time.Since(start), false)
		return remote.Call(remote.OpWrite, fmt.Errorf("upload returned %d", resp.StatusCode))
	}
	metrics.RecordRemoteOp(remote.OpWrite, time.Since(start), true)
	return nil
}

// Publish returns the object's public URL. The bucket is assumed to allow
// public reads; the call itself changes nothing remotely, so repeating it
// is harmless.
func (d *Disk) Publish(ctx context.Context, path string) (string, error) {
	u := d.publicURL(keyOf(path))
	if u == "" {
		return "", remote.Call(remote.OpPublish, fmt.Errorf("no public endpoint for bucket %s", d.bucket))
	}
	return u, nil
}

func (d *Disk) publicURL(key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	escaped := strings.Join(segs, "/")
	if d.endpoint != "" {
		return d.endpoint + "/" + d.bucket + "/" + escaped
	}
	return "https://" + d.bucket + ".s3." + d.region + ".amazonaws.com/" + escaped
}

// Delete removes the object, or every object under the path when it names
// a folder.
func (d *Disk) Delete(ctx context.Context, path string) error {
	start := time.Now()
	key := keyOf(path)

	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		metrics.RecordRemoteOp(remote.OpDelete, time.Since(start), false)
		return remote.Call(remote.OpDelete, classify(err))
	}

	// Folder contents, if any.
	p := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(key + "/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			metrics.RecordRemoteOp(remote.OpDelete, time.Since(start), false)
			return remote.Call(remote.OpDelete, classify(err))
		}
		if len(page.Contents) == 0 {
			continue
		}
		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		_, err = d.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(d.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			metrics.RecordRemoteOp(remote.OpDelete, time.Since(start), false)
			return remote.Call(remote.OpDelete, classify(err))
		}
	}

	metrics.RecordRemoteOp(remote.OpDelete, time.Since(start), true)
	return nil
}

// Mkdir writes a zero-byte marker object so the folder shows up in listings
// before it has content.
func (d *Disk) Mkdir(ctx context.Context, path string) error {
	start := time.Now()
	key := keyOf(path) + "/"

	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		metrics.RecordRemoteOp(remote.OpMkdir, time.Since(start), false)
		return remote.Call(remote.OpMkdir, classify(err))
	}
	metrics.RecordRemoteOp(remote.OpMkdir, time.Since(start), true)
	return nil
}

// Usage sums object sizes across the bucket. Total stays zero: an S3
// bucket reports no capacity.
func (d *Disk) Usage(ctx context.Context) (*remote.Usage, error) {
	start := time.Now()

	var used int64
	p := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			metrics.RecordRemoteOp(remote.OpUsage, time.Since(start), false)
			return nil, remote.Call(remote.OpUsage, classify(err))
		}
		for _, obj := range page.Contents {
			used += aws.ToInt64(obj.Size)
		}
	}
	metrics.RecordRemoteOp(remote.OpUsage, time.Since(start), true)

	return &remote.Usage{Used: used}, nil
}
