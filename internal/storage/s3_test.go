package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/franz/sparkify-lake/internal/util"
)

// fakeS3 is an in-memory s3API keyed by bucket/key. pageSize forces
// paginated listings; throttle makes the next n calls of an operation fail
// with a SlowDown response.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pageSize int
	copies   int
	throttle map[string]int
	calls    map[string]int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, pageSize: 2, throttle: map[string]int{}, calls: map[string]int{}}
}

func (f *fakeS3) throttled(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.throttle[op] > 0 {
		f.throttle[op]--
		return fmt.Errorf("operation error S3: %s, https response error StatusCode: 503, RequestID: X1, api error SlowDown: Please reduce your request rate.", op)
	}
	return nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := f.throttled("ListObjectsV2"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket := aws.ToString(in.Bucket) + "/"
	prefix := aws.ToString(in.Prefix)

	var all []string
	for k := range f.objects {
		if !strings.HasPrefix(k, bucket) {
			continue
		}
		key := strings.TrimPrefix(k, bucket)
		if strings.HasPrefix(key, prefix) {
			all = append(all, key)
		}
	}
	sort.Strings(all)

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		start = sort.SearchStrings(all, tok)
	}
	end := min(start+f.pageSize, len(all))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(all))}
	for _, key := range all[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(key),
			Size: aws.Int64(int64(len(f.objects[bucket+key]))),
		})
	}
	if end < len(all) {
		out.NextContinuationToken = aws.String(all[end])
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := f.throttled("GetObject"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := f.throttled("PutObject"); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	if err := f.throttled("CopyObject"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	src, err := url.PathUnescape(aws.ToString(in.CopySource))
	if err != nil {
		return nil, err
	}
	data, ok := f.objects[src]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	f.copies++
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	if err := f.throttled("DeleteObjects"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(in.Delete.Objects) > deleteBatchSize {
		return nil, errors.New("MalformedXML: too many keys")
	}
	for _, id := range in.Delete.Objects {
		delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(id.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func TestS3Backend_GlobAcrossPages(t *testing.T) {
	fake := newFakeS3()
	for _, k := range []string{
		"song_data/A/A/A/TRAAAAW.json",
		"song_data/A/A/B/TRAABJL.json",
		"song_data/A/B/C/TRABCEI.json",
		"song_data/B/A/A/TRBAAAA.json",
		"song_data/A/A/A/readme.md",
	} {
		fake.objects["udacity-dend/"+k] = []byte("{}")
	}
	b := newS3WithClient(fake, util.NoRetry())

	objects, err := Glob(context.Background(), b, MustParseLocation("s3a://udacity-dend/").Join("song_data/A/*/*/*.json"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	got := keys(objects)
	want := []string{
		"song_data/A/A/A/TRAAAAW.json",
		"song_data/A/A/B/TRAABJL.json",
		"song_data/A/B/C/TRABCEI.json",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Glob = %v, want %v", got, want)
	}
}

func TestS3Backend_PutOpenNotFound(t *testing.T) {
	fake := newFakeS3()
	b := newS3WithClient(fake, util.NoRetry())
	ctx := context.Background()
	loc := MustParseLocation("s3://out/sparkify/userstables/part-00000.parquet")

	if err := b.Put(ctx, loc, []byte("PAR1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	data, err := ReadAll(ctx, b, loc)
	if err != nil || string(data) != "PAR1" {
		t.Errorf("ReadAll = %q, %v", data, err)
	}

	_, err = b.Open(ctx, MustParseLocation("s3://out/missing.parquet"))
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestS3Backend_DeletePrefixBatches(t *testing.T) {
	fake := newFakeS3()
	fake.pageSize = 500
	for i := 0; i < 2500; i++ {
		fake.objects[fmt.Sprintf("out/sparkify/songplays/part-%05d.parquet", i)] = nil
	}
	fake.objects["out/sparkify/songplaysextra/keep"] = []byte("k")
	b := newS3WithClient(fake, util.NoRetry())

	n, err := b.DeletePrefix(context.Background(), MustParseLocation("s3://out/sparkify/songplays"))
	if err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}
	if n != 2500 {
		t.Errorf("deleted %d, want 2500", n)
	}
	if _, ok := fake.objects["out/sparkify/songplaysextra/keep"]; !ok {
		t.Error("sibling prefix was deleted")
	}
}

func TestS3Backend_MovePrefix(t *testing.T) {
	fake := newFakeS3()
	fake.objects["out/sparkify/_temporary/r1/timetables/part-00000.parquet"] = []byte("t0")
	fake.objects["out/sparkify/_temporary/r1/timetables/_SUCCESS"] = nil
	fake.objects["out/sparkify/timetables/part-00000-old.parquet"] = []byte("old")
	b := newS3WithClient(fake, util.NoRetry())

	n, err := Move(context.Background(), b,
		MustParseLocation("s3://out/sparkify/_temporary/r1/timetables"),
		MustParseLocation("s3://out/sparkify/timetables"))
	if err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if n != 2 || fake.copies != 2 {
		t.Errorf("moved %d with %d copies, want 2", n, fake.copies)
	}
	if _, ok := fake.objects["out/sparkify/timetables/part-00000-old.parquet"]; ok {
		t.Error("old object survived overwrite")
	}
	if string(fake.objects["out/sparkify/timetables/part-00000.parquet"]) != "t0" {
		t.Error("moved object missing")
	}
	for k := range fake.objects {
		if strings.Contains(k, "_temporary") {
			t.Errorf("staged object left behind: %s", k)
		}
	}
}

func TestS3Backend_RetriesThrottling(t *testing.T) {
	fake := newFakeS3()
	for _, op := range []string{"ListObjectsV2", "GetObject", "PutObject", "CopyObject", "DeleteObjects"} {
		fake.throttle[op] = 2
	}
	retry := &util.RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
	b := newS3WithClient(fake, retry)
	ctx := context.Background()

	part := MustParseLocation("s3://out/_temporary/r1/songplays/part-00000.parquet")
	if err := b.Put(ctx, part, []byte("PAR1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if data, err := ReadAll(ctx, b, part); err != nil || string(data) != "PAR1" {
		t.Fatalf("ReadAll = %q, %v", data, err)
	}
	n, err := b.MovePrefix(ctx, MustParseLocation("s3://out/_temporary/r1/songplays"), MustParseLocation("s3://out/songplays"))
	if err != nil || n != 1 {
		t.Fatalf("MovePrefix = %d, %v", n, err)
	}

	for op, calls := range fake.calls {
		if calls < 3 {
			t.Errorf("%s called %d times, want the throttled attempts retried", op, calls)
		}
	}
	if _, ok := fake.objects["out/songplays/part-00000.parquet"]; !ok {
		t.Error("moved object missing")
	}
}

func TestS3Backend_GivesUpAfterMaxAttempts(t *testing.T) {
	fake := newFakeS3()
	fake.throttle["PutObject"] = 5
	b := newS3WithClient(fake, &util.RetryConfig{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond})

	err := b.Put(context.Background(), MustParseLocation("s3://out/x"), []byte("x"))
	if !errors.Is(err, util.ErrWrite) || !strings.Contains(err.Error(), "SlowDown") {
		t.Errorf("expected a write error carrying the throttling response, got %v", err)
	}
	if fake.calls["PutObject"] != 2 {
		t.Errorf("PutObject called %d times, want 2", fake.calls["PutObject"])
	}
}

func TestCopySourceEscapesSegments(t *testing.T) {
	got := copySource("bucket", "out/a b/c+d.parquet")
	if got != "bucket/out/a%20b/c+d.parquet" {
		t.Errorf("copySource = %q", got)
	}
}
