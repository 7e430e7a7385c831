// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatcher

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ExhaustedError reports that every provider in the preference order
// failed for one call. Attempts holds the last error seen per provider.
type ExhaustedError struct {
	Attempts map[string]error
}

func (e *ExhaustedError) Error() string {
	names := make([]string, 0, len(e.Attempts))
	for name := range e.Attempts {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("all providers exhausted")
	for _, name := range names {
		fmt.Fprintf(&b, "; %s: %v", name, e.Attempts[name])
	}
	return b.String()
}

// IsExhausted reports whether err is a full provider exhaustion.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}
