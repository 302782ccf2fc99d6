package notes

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxChunkPayloadBytes is the ceiling on one serialized note payload,
// inherited from the document size limit of the backing store.
const maxChunkPayloadBytes = 900 * 1024

const continuationMarker = "(lanjutan) "

// chunk is one image-bearing fragment of a submission before persistence.
type chunk struct {
	Title         string
	ExtractedText string
	Images        []ImageInput
	PartNumber    int
}

// normalizeImages flattens the two accepted input shapes into one ordered
// sequence. The legacy shape carries a single pre-stored path instead of
// image payloads.
func normalizeImages(sub Submission) []ImageInput {
	if len(sub.Images) > 0 {
		return sub.Images
	}
	if strings.TrimSpace(sub.ImagePath) != "" {
		return []ImageInput{{Ref: strings.TrimSpace(sub.ImagePath)}}
	}
	return nil
}

// partitionImages splits the sequence into groups of at most size images.
// Zero images still yield exactly one empty group, so every submission
// produces at least one note.
func partitionImages(images []ImageInput, size int) [][]ImageInput {
	if len(images) == 0 {
		return [][]ImageInput{nil}
	}
	groups := make([][]ImageInput, 0, (len(images)+size-1)/size)
	for start := 0; start < len(images); start += size {
		end := start + size
		if end > len(images) {
			end = len(images)
		}
		groups = append(groups, images[start:end])
	}
	return groups
}

// buildChunks derives the ordered chunk sequence for a submission. The first
// chunk keeps the title and extracted text verbatim; continuation chunks get
// a part-indexed title and repeat the full original extracted text behind the
// continuation marker. The duplication matches the historical ingestion
// behavior and is kept deliberately.
func buildChunks(sub Submission) []chunk {
	groups := partitionImages(normalizeImages(sub), maxImagesPerNote)
	chunks := make([]chunk, 0, len(groups))
	for index, group := range groups {
		part := chunk{
			Title:         sub.Title,
			ExtractedText: sub.ExtractedText,
			Images:        group,
			PartNumber:    index + 1,
		}
		if index > 0 {
			part.Title = fmt.Sprintf("%s (Bagian %d)", sub.Title, index+1)
			part.ExtractedText = continuationMarker + sub.ExtractedText
		}
		chunks = append(chunks, part)
	}
	return chunks
}

// chunkPayload is the serialized form measured against the size ceiling.
// Image bytes encode as base64, matching how inline payloads were stored.
type chunkPayload struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Content       string   `json:"content"`
	ExtractedText string   `json:"extracted_text"`
	Tags          []string `json:"tags"`
	Images        [][]byte `json:"images"`
}

// checkChunkSize rejects a chunk whose serialized payload exceeds the
// ceiling. It returns the measured size for logging.
func checkChunkSize(sub Submission, part chunk) (int, error) {
	payload := chunkPayload{
		Title:         part.Title,
		Description:   sub.Description,
		Content:       sub.Content,
		ExtractedText: part.ExtractedText,
		Tags:          sub.Tags,
	}
	for _, image := range part.Images {
		if len(image.Data) > 0 {
			payload.Images = append(payload.Images, image.Data)
		}
	}
	serialized, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	size := len(serialized)
	if size > maxChunkPayloadBytes {
		return size, &OversizeError{
			PartNumber: part.PartNumber,
			ActualSize: size,
			MaxSize:    maxChunkPayloadBytes,
		}
	}
	return size, nil
}
