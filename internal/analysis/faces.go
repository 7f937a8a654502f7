package analysis

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/your-org/galleryai/internal/describe"
	"github.com/your-org/galleryai/internal/faceindex"
	"github.com/your-org/galleryai/internal/models"
)

// mergeMinIoU is the overlap needed to treat a described face and a detected
// face as the same person.
const mergeMinIoU = 0.3

type mergedFace struct {
	face models.PersonFace
	// detected faces have a detector box and can be indexed.
	detected bool
}

// mergeFaces pairs detector faces with the faces the description model
// reported, greedily by overlap. Detected faces come first in detection
// order, followed by described faces the detector missed.
func mergeFaces(detected []faceindex.DetectedFace, described []describe.FaceDescription) []mergedFace {
	type pair struct {
		d, m int
		iou  float64
	}
	var pairs []pair
	for i, d := range detected {
		for j, m := range described {
			if iou := d.BoundingBox.IoU(m.BoundingBox); iou >= mergeMinIoU {
				pairs = append(pairs, pair{d: i, m: j, iou: iou})
			}
		}
	}
	slices.SortStableFunc(pairs, func(a, b pair) int {
		return cmp.Compare(b.iou, a.iou)
	})

	matchOf := make(map[int]int, len(pairs))
	usedDescribed := make(map[int]bool, len(pairs))
	for _, p := range pairs {
		if _, ok := matchOf[p.d]; ok || usedDescribed[p.m] {
			continue
		}
		matchOf[p.d] = p.m
		usedDescribed[p.m] = true
	}

	out := make([]mergedFace, 0, len(detected)+len(described)-len(matchOf))
	for i, d := range detected {
		f := models.PersonFace{BoundingBox: d.BoundingBox}
		if j, ok := matchOf[i]; ok {
			applyDescription(&f, described[j])
		}
		if f.AgeRange == "" && d.AgeRange != nil {
			f.AgeRange = d.AgeRange.String()
		}
		if f.Expression == "" {
			f.Expression = topEmotion(d.Emotions)
		}
		out = append(out, mergedFace{face: f, detected: true})
	}
	for j, m := range described {
		if usedDescribed[j] {
			continue
		}
		f := models.PersonFace{BoundingBox: m.BoundingBox}
		applyDescription(&f, m)
		out = append(out, mergedFace{face: f})
	}

	for i := range out {
		out[i].face.FaceID = fmt.Sprintf("f%d", i+1)
	}
	return out
}

func applyDescription(f *models.PersonFace, m describe.FaceDescription) {
	f.Appearance = m.Appearance
	f.Role = m.Role
	f.Expression = m.Expression
	f.AgeRange = m.AgeRange
}

func topEmotion(emotions []faceindex.Emotion) string {
	if len(emotions) == 0 {
		return ""
	}
	best := slices.MaxFunc(emotions, func(a, b faceindex.Emotion) int {
		return cmp.Compare(a.Confidence, b.Confidence)
	})
	return strings.ToLower(best.Type)
}
