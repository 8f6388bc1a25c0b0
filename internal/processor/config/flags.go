/*
Copyright 2026 The redact-go Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"strconv"

	"github.com/spf13/pflag"
)

// negatedBool is the --no-<name> side of a boolean flag.
type negatedBool struct {
	target *bool
}

func (n negatedBool) String() string {
	if n.target == nil {
		return "false"
	}
	return strconv.FormatBool(!*n.target)
}

func (n negatedBool) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*n.target = !v
	return nil
}

func (n negatedBool) Type() string {
	return "bool"
}

// AddNegatableBool registers --<name> and --no-<name> for the same boolean.
func AddNegatableBool(fs *pflag.FlagSet, target *bool, name, usage string) {
	fs.BoolVar(target, name, *target, usage)
	f := fs.VarPF(negatedBool{target: target}, "no-"+name, "", "do not "+usage)
	f.NoOptDefVal = "true"
}
