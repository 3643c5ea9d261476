// 原始载荷编解码器
// 入库前的原子步骤：JSON 序列化(RFC 8785 规范化) -> sha256 -> zstd 压缩。
// 规范化保证同一载荷不论字段顺序如何，哈希恒定，可用于去重与审计比对
package rawcodec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/klauspost/compress/zstd"
)

const (
	// Compression 压缩算法标识
	Compression = "zstd"
	// MimeType 载荷MIME类型
	MimeType = "application/json"
)

// CompressedRaw 压缩结果
type CompressedRaw struct {
	Bytes       []byte // 压缩后的字节
	SizeBytes   int    // 未压缩字节数
	Hash        string // 未压缩内容的 sha256 (hex)
	Compression string // 压缩算法
	MimeType    string // MIME 类型
}

// Codec 编解码器
// 编码器/解码器可复用，并发安全（EncodeAll/DecodeAll 均为无状态调用）
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec 创建编解码器
func NewCodec() (*Codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{encoder: encoder, decoder: decoder}, nil
}

// Compress 将任意载荷规范化为 JSON 后压缩
func (c *Codec) Compress(payload interface{}) (*CompressedRaw, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal raw payload: %w", err)
	}

	// RFC 8785 规范化，保证哈希与字段顺序无关
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize raw payload: %w", err)
	}

	sum := sha256.Sum256(canonical)

	return &CompressedRaw{
		Bytes:       c.encoder.EncodeAll(canonical, nil),
		SizeBytes:   len(canonical),
		Hash:        hex.EncodeToString(sum[:]),
		Compression: Compression,
		MimeType:    MimeType,
	}, nil
}

// Decompress 解压并反序列化载荷
func (c *Codec) Decompress(compressed []byte) (interface{}, error) {
	raw, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress raw payload: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal raw payload: %w", err)
	}
	return out, nil
}
