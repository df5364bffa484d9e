/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package record

// Operation is the business operation carried by a completion frame.
type Operation int

const (
	Unknown Operation = iota
	PasswordChange
	AccountAdd
	AccountUpdate
	AccountDelete
	AccountVerify
	ConnectionAdd
	ConnectionUpdate
	ConnectionDelete
	GroupAdd
	GroupUpdate
	GroupDelete
)

var operationCodes = map[string]Operation{
	"PA": PasswordChange,
	"AA": AccountAdd,
	"UA": AccountUpdate,
	"DA": AccountDelete,
	"VA": AccountVerify,
	"AC": ConnectionAdd,
	"UC": ConnectionUpdate,
	"DC": ConnectionDelete,
	"AB": GroupAdd,
	"UB": GroupUpdate,
	"DB": GroupDelete,
}

var operationNames = map[Operation]string{
	Unknown:          "Unknown",
	PasswordChange:   "PasswordChange",
	AccountAdd:       "AccountAdd",
	AccountUpdate:    "AccountUpdate",
	AccountDelete:    "AccountDelete",
	AccountVerify:    "AccountVerify",
	ConnectionAdd:    "ConnectionAdd",
	ConnectionUpdate: "ConnectionUpdate",
	ConnectionDelete: "ConnectionDelete",
	GroupAdd:         "GroupAdd",
	GroupUpdate:      "GroupUpdate",
	GroupDelete:      "GroupDelete",
}

// ParseOperation maps a 2-character operation code to an Operation.
// Codes the listener does not handle (RA, NA, MA, SA...) map to Unknown.
func ParseOperation(code string) Operation {
	if op, ok := operationCodes[code]; ok {
		return op
	}
	return Unknown
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return "Unknown"
}

// IsAccount reports whether o is an account record (AA, UA, DA, VA).
func (o Operation) IsAccount() bool {
	return o == AccountAdd || o == AccountUpdate || o == AccountDelete || o == AccountVerify
}

// IsConnection reports whether o is a group connection record (AC, UC, DC).
func (o Operation) IsConnection() bool {
	return o == ConnectionAdd || o == ConnectionUpdate || o == ConnectionDelete
}

// IsGroup reports whether o is a group record (AB, UB, DB).
func (o Operation) IsGroup() bool {
	return o == GroupAdd || o == GroupUpdate || o == GroupDelete
}
