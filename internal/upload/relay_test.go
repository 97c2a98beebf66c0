package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/apperr"
	"storefront/internal/storage"
)

type recordingStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	failAt  int // fail once this many bytes have been read; 0 disables
}

func newRecordingStore() *recordingStore {
	return &recordingStore{objects: make(map[string][]byte)}
}

func (s *recordingStore) Put(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	var buf bytes.Buffer
	p := make([]byte, 64)
	for {
		n, err := body.Read(p)
		buf.Write(p[:n])
		if s.failAt > 0 && buf.Len() >= s.failAt {
			return "", errors.New("bucket unreachable")
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = buf.Bytes()
	return "https://cdn.example.com/" + key, nil
}

func (s *recordingStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key)
	delete(s.objects, key)
	return nil
}

func (s *recordingStore) URL(key string) string {
	return "https://cdn.example.com/" + key
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	values []int
}

func (p *recordingPublisher) Publish(event string, percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	p.values = append(p.values, percent)
}

func TestProgressSequenceMatchesChunkBoundaries(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		chunk int
		want  []int
	}{
		{name: "uneven_tail", size: 1050, chunk: 200, want: []int{19, 38, 57, 76, 95, 100}},
		{name: "exact_multiple", size: 800, chunk: 200, want: []int{25, 50, 75, 100}},
		{name: "smaller_than_chunk", size: 50, chunk: 200, want: []int{100}},
		{name: "many_small_chunks", size: 3, chunk: 1, want: []int{33, 66, 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newRecordingStore()
			relay := NewRelay(store, WithChunkSize(tt.chunk))
			data := bytes.Repeat([]byte{0x01}, tt.size)

			transfer := relay.Start(context.Background(), Asset{Name: "a.bin", Data: data}, Target{Folder: "project-files", Class: ClassRaw})

			var got []int
			var last Progress
			for p := range transfer.Progress() {
				require.GreaterOrEqual(t, p.BytesWritten, last.BytesWritten)
				got = append(got, p.Percent)
				last = p
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, int64(tt.size), last.BytesWritten)

			desc, err := transfer.Wait()
			require.NoError(t, err)
			assert.Equal(t, data, store.objects[desc.PublicID])
			assert.Equal(t, "https://cdn.example.com/"+desc.PublicID, desc.URL)
			assert.Equal(t, int64(tt.size), desc.SizeBytes)
		})
	}
}

func TestProgressIsNotRestartable(t *testing.T) {
	relay := NewRelay(newRecordingStore())
	transfer := relay.Start(context.Background(), Asset{Data: bytes.Repeat([]byte("x"), 450)}, Target{Folder: "f", Class: ClassRaw})

	first := 0
	for range transfer.Progress() {
		first++
	}
	second := 0
	for range transfer.Progress() {
		second++
	}

	assert.Equal(t, 3, first)
	assert.Zero(t, second)
}

func TestZeroLengthAssetYieldsSingleHundred(t *testing.T) {
	store := newRecordingStore()
	relay := NewRelay(store)
	transfer := relay.Start(context.Background(), Asset{Name: "empty.txt"}, Target{Folder: "f", Class: ClassRaw})

	var got []Progress
	for p := range transfer.Progress() {
		got = append(got, p)
	}
	require.Len(t, got, 1)
	assert.Equal(t, 100, got[0].Percent)

	desc, err := transfer.Wait()
	require.NoError(t, err)
	assert.Empty(t, store.objects[desc.PublicID])
}

func TestWaitWithoutConsumingProgressStillUploads(t *testing.T) {
	store := newRecordingStore()
	relay := NewRelay(store)

	desc, err := relay.Start(context.Background(), Asset{Data: bytes.Repeat([]byte("y"), 999)}, Target{Folder: "f", Class: ClassAuto}).Wait()
	require.NoError(t, err)
	assert.Len(t, store.objects[desc.PublicID], 999)
}

func TestRemoteFailureIsUploadFailedAndCleansUp(t *testing.T) {
	store := newRecordingStore()
	store.failAt = 300
	relay := NewRelay(store)

	transfer := relay.Start(context.Background(), Asset{Data: bytes.Repeat([]byte("z"), 2000)}, Target{Folder: "f", Class: ClassRaw})
	events := 0
	for range transfer.Progress() {
		events++
	}

	desc, err := transfer.Wait()
	assert.Nil(t, desc)
	require.Error(t, err)
	assert.Equal(t, apperr.UploadFailed, apperr.KindOf(err))
	assert.Less(t, events, 10)
	assert.Len(t, store.deleted, 1)
}

func TestEarlyStopFailsTransferAndLeavesNoObject(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewLocalStore(root, "")
	require.NoError(t, err)
	relay := NewRelay(store)

	transfer := relay.Start(context.Background(), Asset{Data: bytes.Repeat([]byte("w"), 1000)}, Target{Folder: "icons", Class: ClassRaw})
	seen := 0
	for range transfer.Progress() {
		seen++
		if seen == 2 {
			break
		}
	}

	_, err = transfer.Wait()
	require.Error(t, err)
	assert.Equal(t, apperr.UploadFailed, apperr.KindOf(err))
	assert.ErrorIs(t, err, ErrTransferStopped)

	entries, _ := os.ReadDir(filepath.Join(root, "icons"))
	assert.Empty(t, entries)
}

func TestStartRejectsExecutables(t *testing.T) {
	store := newRecordingStore()
	relay := NewRelay(store)

	transfer := relay.Start(context.Background(), Asset{Name: "payload.png", Data: []byte("MZ\x90\x00\x03\x00")}, Target{Folder: "f", Class: ClassAuto})
	for range transfer.Progress() {
		t.Fatal("Progress() yielded for a rejected asset")
	}

	_, err := transfer.Wait()
	assert.Equal(t, apperr.ValidationFailed, apperr.KindOf(err))
	assert.ErrorIs(t, err, ErrExecutableFile)
	assert.Empty(t, store.objects)
}

func TestImageClassRejectsNonImages(t *testing.T) {
	relay := NewRelay(newRecordingStore())

	_, err := relay.Start(context.Background(), Asset{Name: "icon.png", Data: []byte{0x00, 0x01, 0x02, 0x03}}, Target{Folder: "f", Class: ClassImage}).Wait()
	assert.Equal(t, apperr.ValidationFailed, apperr.KindOf(err))
	assert.ErrorIs(t, err, ErrDisallowedType)
}

func TestSendPublishesEveryPercent(t *testing.T) {
	pub := &recordingPublisher{}
	relay := NewRelay(newRecordingStore(), WithPublisher(pub), WithChunkSize(100))

	desc, err := relay.Send(context.Background(), Asset{Data: bytes.Repeat([]byte("s"), 400)}, Target{Folder: "project-files", Class: ClassRaw}, "file-upload-progress")
	require.NoError(t, err)
	require.NotNil(t, desc)

	assert.Equal(t, []int{25, 50, 75, 100}, pub.values)
	for _, e := range pub.events {
		assert.Equal(t, "file-upload-progress", e)
	}
}
