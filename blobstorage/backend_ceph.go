//go:build ceph

/*
Copyright (C) 2026  Kronuz Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package blobstorage

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/ceph/go-ceph/rados"
)

// CephConfig names the RADOS pool volumes are stored as objects in.
// Grounded on storage/persistence-ceph.go's CephFactory.
type CephConfig struct {
	UserName    string
	ClusterName string
	ConfFile    string
	Pool        string
	Prefix      string
}

// CephBackend stores volumes as RADOS objects, one per volume file.
// Unlike S3, RADOS supports writing at an arbitrary offset, so
// OpenAppend performs true appends via CreateWriteOp/Write-at-offset
// instead of buffer-and-replace (storage/persistence-ceph.go's
// CephLogfile.flushLocked uses the same op.Write(payload, offset)).
type CephBackend struct {
	cfg CephConfig

	mu    sync.Mutex
	conn  *rados.Conn
	ioctx *rados.IOContext
}

func NewCephBackend(cfg CephConfig) *CephBackend {
	return &CephBackend{cfg: cfg}
}

func (c *CephBackend) ensureOpen() (*rados.IOContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ioctx != nil {
		return c.ioctx, nil
	}

	conn, err := rados.NewConnWithClusterAndUser(c.cfg.ClusterName, c.cfg.UserName)
	if err != nil {
		return nil, err
	}
	if c.cfg.ConfFile != "" {
		if err := conn.ReadConfigFile(c.cfg.ConfFile); err != nil {
			return nil, err
		}
	} else if err := conn.ReadDefaultConfigFile(); err != nil {
		return nil, err
	}
	if err := conn.Connect(); err != nil {
		return nil, err
	}
	ioctx, err := conn.OpenIOContext(c.cfg.Pool)
	if err != nil {
		conn.Shutdown()
		return nil, err
	}
	c.conn = conn
	c.ioctx = ioctx
	return ioctx, nil
}

func (c *CephBackend) obj(name string) string {
	prefix := strings.TrimSuffix(c.cfg.Prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (c *CephBackend) OpenRead(name string) (io.ReadSeeker, io.Closer, error) {
	ioctx, err := c.ensureOpen()
	if err != nil {
		return nil, nil, err
	}
	obj := c.obj(name)
	stat, err := ioctx.Stat(obj)
	if err != nil {
		return nil, nil, err
	}
	data := make([]byte, stat.Size)
	if _, err := ioctx.Read(obj, data, 0); err != nil {
		return nil, nil, err
	}
	return bytes.NewReader(data), noopCloser{}, nil
}

func (c *CephBackend) OpenAppend(name string) (AppendFile, error) {
	ioctx, err := c.ensureOpen()
	if err != nil {
		return nil, err
	}
	obj := c.obj(name)
	var offset uint64
	if stat, err := ioctx.Stat(obj); err == nil {
		offset = stat.Size
	}
	return &cephAppender{ioctx: ioctx, obj: obj, offset: offset}, nil
}

func (c *CephBackend) Remove(name string) error {
	ioctx, err := c.ensureOpen()
	if err != nil {
		return err
	}
	return ioctx.Delete(c.obj(name))
}

func (c *CephBackend) List(prefix string) ([]string, error) {
	ioctx, err := c.ensureOpen()
	if err != nil {
		return nil, err
	}
	iter, err := ioctx.Iter()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	fullPrefix := c.obj(prefix)
	basePrefix := c.obj("")
	var names []string
	for iter.Next() {
		name := iter.Value()
		if strings.HasPrefix(name, fullPrefix) {
			names = append(names, strings.TrimPrefix(name, basePrefix))
		}
	}
	return names, iter.Err()
}

type cephAppender struct {
	ioctx  *rados.IOContext
	obj    string
	offset uint64
}

func (a *cephAppender) Write(p []byte) (int, error) {
	op := rados.CreateWriteOp()
	defer op.Release()
	op.Write(p, a.offset)
	if err := op.Operate(a.ioctx, a.obj, rados.OperationNoFlag); err != nil {
		return 0, err
	}
	a.offset += uint64(len(p))
	return len(p), nil
}

func (a *cephAppender) Sync() error {
	return nil
}

func (a *cephAppender) Close() error {
	return nil
}

func (a *cephAppender) Size() (int64, error) {
	return int64(a.offset), nil
}
