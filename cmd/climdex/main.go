/*
Copyright © 2025 the climdex authors.
This file is part of climdex.

climdex is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

climdex is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with climdex.  If not, see <http://www.gnu.org/licenses/>.
*/

// Command climdex is a command-line interface for the climdex
// extreme-event index calculator.
package main

import (
	"fmt"
	"os"

	"github.com/spatialmodel/climdex/climdexutil"
)

func main() {
	if err := climdexutil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
