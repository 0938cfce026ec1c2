// Copyright 2019 The zbdba Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

var (
	ProjectName = "pagetracker"
	Major       = 0
	Minor       = 1
	Patch       = 0
	GitSHA      = "Not provided"
	BuildTime   = "Not provided"
)

func logo() string {
	// http://patorjk.com/software/taag/#p=display&f=Slant&t=pagetracker
	return `
  ____  ___   ____ ___  / /__________ ______/ /_____  _____
 / __ \/ _ | / __ '/ _ \/ __/ ___/ __  / ___/ //_/ _ \/ ___/
/ /_/ / __ |/ /_/ /  __/ /_/ /  / /_/ / /__/ ,< /  __/ /
\____/_/ |_|\__, /\___/\__/_/   \__,_/\___/_/|_|\___/_/
           /____/
`
}
