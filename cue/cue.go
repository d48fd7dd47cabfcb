package cue

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"eduff/ketch/conf"
)

const typesStr = `
#Volume: {
	name: string
	external: bool | *false
}
#Network: {
	name: string
	driver: string | *"bridge"
	external: bool | *false
}
#File: {
	content:     string
	permissions: uint16
} | string

#Port: {
	host:     uint16
	service:  uint16
	protocol: *"tcp" | "udp"
} | uint16

#Build: {
	from: string
	files: [string]:  #File
	labels: [string]: string
	env: [string]:    string
	entrypoint: [...string]
	cmd: [...string]
	...
}
#Healthcheck: {
	test: [...string]
	interval:    string | *"30s"
	timeout:     string | *"30s"
	retries:     int | *3
	startPeriod: string | *"0s"
}
#Service: {
	name:    string
	image:   string | *""
	build?:  #Build
	restart: *"no" | "always" | "on-failure" | "unless-stopped"
	environment: [string]: string
	envFiles: [...string]
	volumes: [string]: #Volume
	ports: [...#Port]
	networks: [...#Network]
	dependsOn: [...#Service]
	entrypoint: [...string]
	command: [...string]
	healthcheck?: #Healthcheck
	...
}
`

const constraintsStr = `
$volume: [Name=_]: #Volume & {name: string | *Name}

$network: [Name=_]: #Network & {name: string | *Name}

$service: [Name=_]: S=#Service & {
	name: string | *Name
	_volumeCheck: {
		for k, v in S.volumes {
			"\(v.name).is_in_$volume": [ for k1, v1 in $volume if v1.name == v.name {v1}] & [v]
		}
	}
	_networkCheck: {
		for n in S.networks {
			"\(n.name).is_in_$network": [ for k, v in $network if v.name == n.name {v}] & [n]
		}
	}
}
`

const goTypesStr = `
#GoBuild: #Build & {
	files: [string]:  #File
	$files: [string]:  #File
	$files: {
		for p, f in files {
			"\(p)": {
				content:     string & (f.content | f)
				permissions: uint16 & (f.permissions | *0o666)
			}
		}
	}
}
#GoService: #Service & {
	image:  string
	build?: #Build
	volumes: [string]: #Volume
	networks: [...#Network]
	ports: [...#Port]
	dependsOn: [...#Service]

	$image: image
	if build != _|_ {
		$build: build & #GoBuild
	}
	$ports: [
		for p in ports {
			{
				host:     *p.host | p
				service:  *p.service | p
				protocol: *p.protocol | "tcp"
			}
		}
	]
	$volumes: [
		for d, v in volumes {
			{
				name: v.name
				dest: d
			}
		}
	]
	$networks: [ for n in networks {n.name}]
	$dependsOn: [ for d in dependsOn {d.name}]
}

$volumes:  $volume
$networks: $network
$services: {
	for k, v in $service {
		"\(k)": v&#GoService
	}
}
`

// GetValue loads and checks the cue configuration at path, returning
// the unified value with the export fields resolved.
func GetValue(path string) (*cue.Value, error) {
	ctx := cuecontext.New()

	types := ctx.CompileString(typesStr, cue.Filename("ketch_types.cue"))
	constraints := ctx.CompileString(constraintsStr, cue.Filename("ketch_constraints.cue"), cue.Scope(types))

	bis := load.Instances([]string{path}, &load.Config{})
	bi := bis[0]
	if bi.Err != nil {
		return nil, LoadError.Wrap(bi.Err, "cannot load configuration at %s", path)
	}

	value := ctx.BuildInstance(bi, cue.Scope(types))
	if value.Err() != nil {
		return nil, BuildError.Wrap(value.Err(), "cannot build configuration")
	}
	return finish(ctx, types, constraints, value)
}

// FromString builds a configuration from cue source, mostly for tests
// and the init scaffold.
func FromString(src string) (conf.Config, error) {
	ctx := cuecontext.New()

	types := ctx.CompileString(typesStr, cue.Filename("ketch_types.cue"))
	constraints := ctx.CompileString(constraintsStr, cue.Filename("ketch_constraints.cue"), cue.Scope(types))

	value := ctx.CompileString(src, cue.Filename("config.cue"), cue.Scope(types))
	if value.Err() != nil {
		return conf.Config{}, BuildError.Wrap(value.Err(), "cannot build configuration")
	}
	v, err := finish(ctx, types, constraints, value)
	if err != nil {
		return conf.Config{}, err
	}
	return decode(*v)
}

func finish(ctx *cue.Context, types cue.Value, constraints cue.Value, value cue.Value) (*cue.Value, error) {
	value = value.Unify(constraints)
	if value.Err() != nil {
		return nil, ConstraintError.Wrap(value.Err(), "configuration breaks a constraint")
	}

	scope := value.Unify(types)
	value = ctx.CompileString(goTypesStr, cue.Filename("ketch_go_types.cue"), cue.Scope(scope))
	if value.Err() != nil {
		return nil, ConvertError.Wrap(value.Err(), "cannot convert configuration")
	}

	if err := value.Validate(cue.Concrete(true), cue.ResolveReferences(true)); err != nil {
		return nil, ValidateError.Wrap(err, "configuration is not concrete")
	}
	return &value, nil
}

func decode(value cue.Value) (conf.Config, error) {
	c := conf.Config{}
	if err := value.Decode(&c); err != nil {
		return conf.Config{}, DecodeError.Wrap(err, "cannot decode configuration")
	}
	return c, nil
}

// GetConfig loads, checks and decodes the cue configuration at path.
func GetConfig(path string) (conf.Config, error) {
	value, err := GetValue(path)
	if err != nil {
		return conf.Config{}, err
	}
	return decode(*value)
}

// Print writes the value at the given dotted path to stdout.
func Print(value cue.Value, path string) error {
	sub := value.LookupPath(cue.ParsePath(path))
	if sub.Err() != nil {
		return LookupError.Wrap(sub.Err(), "no value at path %s", path)
	}
	fmt.Printf("%v\n", sub)
	return nil
}
