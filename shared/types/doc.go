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

/*
Package types provides shared type definitions used across the platform.

# Organization Identifiers

OrgID is the tenant identifier attached to an authenticated session. It is the
only value the SQL guard ever formats directly into SQL text, so it is a
distinct type that can only be produced from a positive integer:

	orgID, err := types.ParseOrgID(session.OrganizationID)
	if err != nil {
	    return err // never fall back to a request-supplied value
	}
	result := validator.Validate(candidateSQL, orgID, 100)

Route handlers must take the value from the session, never from the request
body or the user prompt.

# Thread Safety

All types in this package are immutable values and safe for concurrent use.
*/
package types
