//go:build !ceph

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

// CephConfig is a stub when Ceph support is not compiled in.
// Build with -tags=ceph to enable the real RADOS-backed VolumeBackend.
type CephConfig struct {
	UserName    string
	ClusterName string
	ConfFile    string
	Pool        string
	Prefix      string
}

// NewCephBackend panics outside a ceph build; callers select backends
// at startup from configuration, so this failure should surface
// immediately rather than on first use.
func NewCephBackend(cfg CephConfig) VolumeBackend {
	panic("ceph support not compiled in. Build with: go build -tags=ceph")
}
