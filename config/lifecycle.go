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

package config

import "github.com/dc0d/onexit"

// OnShutdown registers fn to run on process exit. Components that own
// background goroutines (debouncers, the scheduler, open volumes)
// register their flush/close routine here instead of relying on a
// caller to remember to call Close.
func OnShutdown(fn func()) {
	onexit.Register(fn)
}
