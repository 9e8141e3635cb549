package protocol

import (
	"context"
	"fmt"
	"strconv"

	"crosspost/internal/domain"
)

// Chunk is one byte range of a binary upload
type Chunk struct {
	// Index is the 0-based chunk number
	Index int

	// Start is the offset of the first byte
	Start int64

	// End is the offset of the last byte (inclusive)
	End int64

	// Total is the size of the whole payload
	Total int64

	// Data holds the bytes of the range
	Data []byte
}

// ContentRange returns the Content-Range header value of the chunk
func (c Chunk) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", c.Start, c.End, c.Total)
}

// ChunkPlan describes how a payload is split
type ChunkPlan struct {
	TotalSize   int64
	ChunkSize   int64
	TotalChunks int
}

// PlanChunks splits size into chunks of chunkSize; the remainder is merged into the last chunk.
// Payloads smaller than one chunk are sent as a single chunk.
func PlanChunks(size, chunkSize int64) ChunkPlan {
	if chunkSize <= 0 || size <= chunkSize {
		return ChunkPlan{TotalSize: size, ChunkSize: size, TotalChunks: 1}
	}
	return ChunkPlan{TotalSize: size, ChunkSize: chunkSize, TotalChunks: int(size / chunkSize)}
}

// Chunks returns the byte ranges of data according to the plan
func (p ChunkPlan) Chunks(data []byte) []Chunk {
	chunks := make([]Chunk, 0, p.TotalChunks)
	for i := 0; i < p.TotalChunks; i++ {
		start := int64(i) * p.ChunkSize
		end := start + p.ChunkSize - 1
		if i == p.TotalChunks-1 {
			end = p.TotalSize - 1
		}
		chunks = append(chunks, Chunk{
			Index: i,
			Start: start,
			End:   end,
			Total: p.TotalSize,
			Data:  data[start : end+1],
		})
	}
	return chunks
}

// UploadSession is the server-side state of one chunked upload
type UploadSession struct {
	// ID is the platform upload or publish id
	ID string

	// UploadURL is where chunks are sent
	UploadURL string

	// ExternalID is set when the platform returns the post id before finalize
	ExternalID string

	// Metadata carries protocol identifiers reported on the result
	Metadata map[string]string
}

// ChunkedAPI is the platform side of the chunked upload protocol
type ChunkedAPI interface {
	InitUpload(ctx context.Context, req domain.PublishRequest, media domain.PreparedMedia, plan ChunkPlan) (*UploadSession, error)
	UploadChunk(ctx context.Context, req domain.PublishRequest, session *UploadSession, chunk Chunk) error
	FinalizeUpload(ctx context.Context, req domain.PublishRequest, session *UploadSession) (string, error)
}

// ChunkedUpload measures a downloaded payload, then drives init → chunks → finalize
type ChunkedUpload struct {
	Platform  domain.Platform
	API       ChunkedAPI
	ChunkSize int64
}

// Run uploads the single binary media item of req
func (u ChunkedUpload) Run(ctx context.Context, req domain.PublishRequest) domain.PlatformResult {
	if len(req.Media) != 1 || len(req.Media[0].Data) == 0 {
		return Failed(req, u.Platform, domain.NewPublishError(domain.ErrorKindValidation, "",
			"exactly one downloaded media item is required"), nil)
	}
	media := req.Media[0]
	plan := PlanChunks(media.Size(), u.ChunkSize)

	session, err := u.API.InitUpload(ctx, req, media, plan)
	if err != nil {
		return Failed(req, u.Platform, fmt.Errorf("init upload: %w", err), nil)
	}
	metadata := session.Metadata
	if metadata == nil {
		metadata = make(map[string]string)
	}
	metadata["upload_id"] = session.ID
	metadata["chunks"] = strconv.Itoa(plan.TotalChunks)

	for _, chunk := range plan.Chunks(media.Data) {
		if err := ctx.Err(); err != nil {
			return Failed(req, u.Platform, err, metadata)
		}
		if err := u.API.UploadChunk(ctx, req, session, chunk); err != nil {
			return Failed(req, u.Platform, fmt.Errorf("upload chunk %d/%d: %w", chunk.Index+1, plan.TotalChunks, err), metadata)
		}
	}

	id, err := u.API.FinalizeUpload(ctx, req, session)
	if err != nil {
		return Failed(req, u.Platform, fmt.Errorf("finalize upload: %w", err), metadata)
	}
	return Succeeded(req, u.Platform, id, nil, metadata)
}
