package sentencepiece

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// The subset of sentencepiece_model.proto read by Parse. Field numbers and
// defaults match the upstream schema; enums are declared as int32, which has
// the same wire encoding. Fields not declared here are kept as unknown fields
// and ignored.
var schema = mustSchema()

type modelSchema struct {
	model      protoreflect.MessageDescriptor
	pieces     protoreflect.FieldDescriptor
	trainer    protoreflect.FieldDescriptor
	normalizer protoreflect.FieldDescriptor

	piece     protoreflect.FieldDescriptor
	score     protoreflect.FieldDescriptor
	pieceType protoreflect.FieldDescriptor

	modelType    protoreflect.FieldDescriptor
	byteFallback protoreflect.FieldDescriptor
	unkID        protoreflect.FieldDescriptor
	bosID        protoreflect.FieldDescriptor
	eosID        protoreflect.FieldDescriptor
	padID        protoreflect.FieldDescriptor

	addDummyPrefix         protoreflect.FieldDescriptor
	removeExtraWhitespaces protoreflect.FieldDescriptor
	escapeWhitespaces      protoreflect.FieldDescriptor
}

func field(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type, def string) *descriptorpb.FieldDescriptorProto {
	f := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
	if def != "" {
		f.DefaultValue = proto.String(def)
	}
	return f
}

func messageField(name string, number int32, typeName string, repeated bool) *descriptorpb.FieldDescriptorProto {
	label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	if repeated {
		label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
	}
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		Number:   proto.Int32(number),
		Label:    label.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
		TypeName: proto.String(typeName),
	}
}

func mustSchema() *modelSchema {
	const (
		str     = descriptorpb.FieldDescriptorProto_TYPE_STRING
		float   = descriptorpb.FieldDescriptorProto_TYPE_FLOAT
		i32     = descriptorpb.FieldDescriptorProto_TYPE_INT32
		boolean = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	)

	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("sentencepiece_model.proto"),
		Package: proto.String("sentencepiece"),
		Syntax:  proto.String("proto2"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("TrainerSpec"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("model_type", 3, i32, "1"),
					field("byte_fallback", 35, boolean, "false"),
					field("unk_id", 40, i32, "0"),
					field("bos_id", 41, i32, "1"),
					field("eos_id", 42, i32, "2"),
					field("pad_id", 43, i32, "-1"),
				},
			},
			{
				Name: proto.String("NormalizerSpec"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("add_dummy_prefix", 3, boolean, "true"),
					field("remove_extra_whitespaces", 4, boolean, "true"),
					field("escape_whitespaces", 5, boolean, "true"),
				},
			},
			{
				Name: proto.String("ModelProto"),
				Field: []*descriptorpb.FieldDescriptorProto{
					messageField("pieces", 1, ".sentencepiece.ModelProto.SentencePiece", true),
					messageField("trainer_spec", 2, ".sentencepiece.TrainerSpec", false),
					messageField("normalizer_spec", 3, ".sentencepiece.NormalizerSpec", false),
				},
				NestedType: []*descriptorpb.DescriptorProto{
					{
						Name: proto.String("SentencePiece"),
						Field: []*descriptorpb.FieldDescriptorProto{
							field("piece", 1, str, ""),
							field("score", 2, float, ""),
							field("type", 3, i32, "1"),
						},
					},
				},
			},
		},
	}

	fd, err := protodesc.NewFile(file, nil)
	if err != nil {
		panic("sentencepiece: invalid model schema: " + err.Error())
	}

	messages := fd.Messages()
	trainer := messages.ByName("TrainerSpec").Fields()
	normalizer := messages.ByName("NormalizerSpec").Fields()
	model := messages.ByName("ModelProto")
	piece := model.Messages().ByName("SentencePiece").Fields()

	return &modelSchema{
		model:      model,
		pieces:     model.Fields().ByName("pieces"),
		trainer:    model.Fields().ByName("trainer_spec"),
		normalizer: model.Fields().ByName("normalizer_spec"),

		piece:     piece.ByName("piece"),
		score:     piece.ByName("score"),
		pieceType: piece.ByName("type"),

		modelType:    trainer.ByName("model_type"),
		byteFallback: trainer.ByName("byte_fallback"),
		unkID:        trainer.ByName("unk_id"),
		bosID:        trainer.ByName("bos_id"),
		eosID:        trainer.ByName("eos_id"),
		padID:        trainer.ByName("pad_id"),

		addDummyPrefix:         normalizer.ByName("add_dummy_prefix"),
		removeExtraWhitespaces: normalizer.ByName("remove_extra_whitespaces"),
		escapeWhitespaces:      normalizer.ByName("escape_whitespaces"),
	}
}
