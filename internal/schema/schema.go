// Package schema loads the metric service definition at runtime from a
// .proto file, so the collector contract can change without regenerating
// code. Both the client and the bifrost server resolve their service
// descriptor through Load.
package schema

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bufbuild/protocompile"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Construction errors. They are fatal to client or server startup.
var (
	ErrSchemaNotFound    = errors.New("schema not found")
	ErrNamespaceNotFound = errors.New("namespace not found in schema")
	ErrServiceNotFound   = errors.New("service not found in schema")
)

const embeddedName = "heimdall/metric.proto"

//go:embed metric.proto
var embedded string

// Load compiles the schema at path and returns the descriptor of
// namespace.service. An empty path selects the schema built into the
// binary.
func Load(ctx context.Context, path, namespace, service string) (protoreflect.ServiceDescriptor, error) {
	var (
		resolver protocompile.Resolver
		name     string
	)
	if path == "" {
		name = embeddedName
		resolver = &protocompile.SourceResolver{
			Accessor: protocompile.SourceAccessorFromMap(map[string]string{embeddedName: embedded}),
		}
	} else {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSchemaNotFound, path, err)
		}
		name = filepath.Base(path)
		resolver = &protocompile.SourceResolver{ImportPaths: []string{filepath.Dir(path)}}
	}

	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(resolver),
	}
	files, err := compiler.Compile(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: compile %s: %v", ErrSchemaNotFound, name, err)
	}
	fd := files[0]

	if string(fd.Package()) != namespace {
		return nil, fmt.Errorf("%w: %q (schema declares %q)", ErrNamespaceNotFound, namespace, fd.Package())
	}
	sd := fd.Services().ByName(protoreflect.Name(service))
	if sd == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrServiceNotFound, namespace, service)
	}
	return sd, nil
}

// FullMethod returns the gRPC method path for method on sd, e.g.
// "/heimdall.metricService/SendMetric".
func FullMethod(sd protoreflect.ServiceDescriptor, method protoreflect.MethodDescriptor) string {
	return "/" + string(sd.FullName()) + "/" + string(method.Name())
}
