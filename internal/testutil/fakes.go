package testutil

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/your-org/galleryai/internal/describe"
	"github.com/your-org/galleryai/internal/faceindex"
	"github.com/your-org/galleryai/internal/failure"
	"github.com/your-org/galleryai/internal/models"
)

// JPEG encodes a solid w x h image. Distinct shades give distinct bytes.
func JPEG(w, h int, shade uint8) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: shade, G: 255 - shade, B: uint8(x % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// FakeObjects is an in-memory object store.
type FakeObjects struct {
	mu      sync.Mutex
	Objects map[string][]byte
}

func NewFakeObjects() *FakeObjects {
	return &FakeObjects{Objects: make(map[string][]byte)}
}

func (o *FakeObjects) GetObject(_ context.Context, key string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.Objects[key]
	if !ok {
		return nil, failure.Errorf(failure.CodeImageError, "object %s not found", key)
	}
	return data, nil
}

func (o *FakeObjects) PutObject(_ context.Context, key string, data []byte, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Objects[key] = slices.Clone(data)
	return nil
}

func (o *FakeObjects) DeletePrefix(_ context.Context, prefix string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key := range o.Objects {
		if strings.HasPrefix(key, prefix) {
			delete(o.Objects, key)
		}
	}
	return nil
}

// Keys returns the stored keys under prefix.
func (o *FakeObjects) Keys(prefix string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var keys []string
	for key := range o.Objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

type fakeFace struct {
	id         string
	collection string
	ref        string
	person     string
}

// FakeFaceIndex detects scripted faces per image and treats faces indexed
// for the same person as matches with a fixed similarity.
type FakeFaceIndex struct {
	mu sync.Mutex

	// Detections maps image bytes to the faces DetectFaces returns.
	Detections map[string][]faceindex.DetectedFace
	// Persons maps an external ref to the person a crop shows. Refs not
	// listed become unique people.
	Persons map[string]string
	// Unindexable refs make IndexFace return no face.
	Unindexable map[string]bool
	Similarity  float64

	DetectErr error
	IndexErr  error
	SearchErr error

	collections map[string]bool
	faces       []fakeFace
	// DeletedCollections records DeleteCollection calls.
	DeletedCollections []string
}

func NewFakeFaceIndex() *FakeFaceIndex {
	return &FakeFaceIndex{
		Detections:  make(map[string][]faceindex.DetectedFace),
		Persons:     make(map[string]string),
		Unindexable: make(map[string]bool),
		Similarity:  95,
		collections: make(map[string]bool),
	}
}

// SetFaces scripts the faces detected in image.
func (f *FakeFaceIndex) SetFaces(image []byte, faces ...faceindex.DetectedFace) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Detections[string(image)] = faces
}

// Index adds a face for person directly and returns its face id.
func (f *FakeFaceIndex) Index(collectionID, externalRef, person string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[collectionID] = true
	id := uuid.NewString()
	f.faces = append(f.faces, fakeFace{id: id, collection: collectionID, ref: externalRef, person: person})
	return id
}

func (f *FakeFaceIndex) HasCollection(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collections[id]
}

// FaceCount returns the number of faces in a collection.
func (f *FakeFaceIndex) FaceCount(collectionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, face := range f.faces {
		if face.collection == collectionID {
			n++
		}
	}
	return n
}

func (f *FakeFaceIndex) DetectFaces(ctx context.Context, image []byte, minConfidence float64) ([]faceindex.DetectedFace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DetectErr != nil {
		return nil, f.DetectErr
	}
	var out []faceindex.DetectedFace
	for _, d := range f.Detections[string(image)] {
		if d.Confidence >= minConfidence {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *FakeFaceIndex) CreateCollection(_ context.Context, collectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[collectionID] = true
	return nil
}

func (f *FakeFaceIndex) DeleteCollection(_ context.Context, collectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeletedCollections = append(f.DeletedCollections, collectionID)
	delete(f.collections, collectionID)
	f.faces = slices.DeleteFunc(f.faces, func(face fakeFace) bool { return face.collection == collectionID })
	return nil
}

func (f *FakeFaceIndex) IndexFace(_ context.Context, collectionID string, crop []byte, externalRef string) (*faceindex.IndexedFace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.IndexErr != nil {
		return nil, f.IndexErr
	}
	if len(crop) == 0 || f.Unindexable[externalRef] {
		return nil, nil
	}
	person, ok := f.Persons[externalRef]
	if !ok {
		person = externalRef
	}
	f.collections[collectionID] = true
	id := uuid.NewString()
	f.faces = append(f.faces, fakeFace{id: id, collection: collectionID, ref: externalRef, person: person})
	return &faceindex.IndexedFace{FaceID: id, ExternalRef: externalRef, Confidence: 99}, nil
}

func (f *FakeFaceIndex) SearchFacesByID(_ context.Context, collectionID, faceID string, threshold float64, maxResults int) ([]faceindex.FaceMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	var query *fakeFace
	for i := range f.faces {
		if f.faces[i].id == faceID && f.faces[i].collection == collectionID {
			query = &f.faces[i]
		}
	}
	if query == nil || f.Similarity < threshold {
		return nil, nil
	}
	var matches []faceindex.FaceMatch
	for _, face := range f.faces {
		if face.collection != collectionID || face.id == faceID || face.person != query.person {
			continue
		}
		matches = append(matches, faceindex.FaceMatch{FaceID: face.id, ExternalRef: face.ref, Similarity: f.Similarity})
		if len(matches) == maxResults {
			break
		}
	}
	return matches, nil
}

func (f *FakeFaceIndex) DeleteFaces(_ context.Context, collectionID string, faceIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faces = slices.DeleteFunc(f.faces, func(face fakeFace) bool {
		return face.collection == collectionID && slices.Contains(faceIDs, face.id)
	})
	return nil
}

// FakeDescriber returns scripted descriptions keyed by image bytes.
type FakeDescriber struct {
	mu           sync.Mutex
	Descriptions map[string]*describe.PhotoDescription
	Errors       map[string]error
	// Err fails every call when set.
	Err   error
	Calls int
}

func NewFakeDescriber() *FakeDescriber {
	return &FakeDescriber{
		Descriptions: make(map[string]*describe.PhotoDescription),
		Errors:       make(map[string]error),
	}
}

func (d *FakeDescriber) Name() string { return "fake" }

func (d *FakeDescriber) DescribePhoto(ctx context.Context, image []byte) (*describe.PhotoDescription, error) {
	d.mu.Lock()
	d.Calls++
	err := d.Err
	if e, ok := d.Errors[string(image)]; ok {
		err = e
	}
	desc, ok := d.Descriptions[string(image)]
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if !ok {
		return &describe.PhotoDescription{Description: "a photo", SearchTags: []string{"photo"}}, nil
	}
	c := *desc
	return &c, nil
}

// FakeEmbedder returns scripted vectors per text, or a fixed unit vector.
type FakeEmbedder struct {
	mu      sync.Mutex
	Vectors map[string][]float32
	Texts   []string
	Err     error
}

func (e *FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Texts = append(e.Texts, text)
	if e.Err != nil {
		return nil, e.Err
	}
	if v, ok := e.Vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

// RecordingDispatcher records dispatched tasks.
type RecordingDispatcher struct {
	mu    sync.Mutex
	Tasks []models.AnalysisTask
	Err   error
}

func (d *RecordingDispatcher) Dispatch(_ context.Context, task models.AnalysisTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	d.Tasks = append(d.Tasks, task)
	return nil
}

// PhotoIDs returns the dispatched photo ids in order.
func (d *RecordingDispatcher) PhotoIDs() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(d.Tasks))
	for _, t := range d.Tasks {
		ids = append(ids, t.PhotoID)
	}
	return ids
}

// RecordingNotifier records progress events.
type RecordingNotifier struct {
	mu     sync.Mutex
	Events []models.ProgressEvent
}

func (n *RecordingNotifier) NotifyProgress(_ context.Context, ev models.ProgressEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Events = append(n.Events, ev)
	return nil
}
