// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidOrgID is returned when a value cannot be used as an organization ID.
var ErrInvalidOrgID = errors.New("invalid organization id")

// OrgID identifies a tenant organization.
type OrgID int64

// NewOrgID converts a raw integer into an OrgID, rejecting non-positive values.
func NewOrgID(id int64) (OrgID, error) {
	o := OrgID(id)
	if !o.IsValid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidOrgID, id)
	}
	return o, nil
}

// ParseOrgID parses a decimal organization ID as stored in a session.
// Signs, whitespace inside the number and non-digit characters are rejected.
func ParseOrgID(s string) (OrgID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidOrgID)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidOrgID, s)
		}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOrgID, s)
	}
	return NewOrgID(id)
}

// IsValid returns true if the ID is a positive integer
func (o OrgID) IsValid() bool {
	return o > 0
}

// Int64 returns the raw integer value
func (o OrgID) Int64() int64 {
	return int64(o)
}

// String returns the decimal representation used in SQL literals
func (o OrgID) String() string {
	return strconv.FormatInt(int64(o), 10)
}

// SQLLiteral returns the ID formatted as an integer SQL literal.
// This is the one sanctioned place where a value is concatenated into SQL:
// the ID comes from the authenticated session and is a validated integer.
func (o OrgID) SQLLiteral() (string, error) {
	if !o.IsValid() {
		return "", fmt.Errorf("%w: %d", ErrInvalidOrgID, int64(o))
	}
	return o.String(), nil
}
