package contract

import (
	"context"
	"io"
)

// Archiver: 打开一个归档会话，归档字节经 Writer 持久化到 id。
type Archiver interface {
	Open(ctx context.Context, id ArtifactID, w Writer) (ArchiveSession, error)
}

// ArchiveSession: 单个缓存归档的追加会话。
// 约束：
//  1. 成员名严格升序追加，否则返回 ErrSeqInvalid；
//  2. Commit 之后目标归档完整可见；
//  3. Abort 之后目标位置不存在新归档（不产出残缺缓存）；
//  4. Commit/Abort 只生效一次。
type ArchiveSession interface {
	Add(ctx context.Context, name string, r io.Reader) error
	Commit() error
	Abort(cause error)
}
